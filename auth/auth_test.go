// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package auth

import (
	"bytes"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend/dummy"
	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
	redis "gopkg.in/redis.v5"
)

func getRedisClient(host string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:6379", host),
		Password: "", // no password set
		DB:       1,
	})
}

func TestStore(t *testing.T) {
	Convey("Given a new auth.Memory", t, func() {
		s := NewMemory()
		Convey("When running the standardized test", standardizedTest(s))
	})

	Convey("Given a new auth.File", t, func() {
		dir, err := ioutil.TempDir("", "auth")
		So(err, ShouldBeNil)
		Reset(func() { os.RemoveAll(dir) })
		filename := filepath.Join(dir, "ring-state.json")
		s := NewFile(filename)
		Convey("When running the standardized test", standardizedTest(s))

		Convey("When setting a token", func() {
			s.Set("the-token")
			Convey("The state file should contain the token", func() {
				contents, err := ioutil.ReadFile(filename)
				So(err, ShouldBeNil)
				So(string(contents), ShouldEqual, `{"ring_token":"the-token"}`)
			})
		})

		Convey("When the state file is invalid", func() {
			ioutil.WriteFile(filename, []byte("not json"), 0600)
			Convey("Get should return an error", func() {
				_, err := s.Get()
				So(err, ShouldNotBeNil)
				So(err, ShouldNotEqual, ErrNoToken)
			})
		})
	})

	if host := os.Getenv("REDIS_HOST"); host != "" {
		Convey("Given a new auth.Redis", t, func() {
			s := NewRedis(getRedisClient(host), "test-auth:ring_token")
			Reset(func() { s.(*Redis).Delete() })
			Convey("When running the standardized test", standardizedTest(s))
		})
	}
}

func standardizedTest(s Store) func() {
	return func() {
		Convey("When getting the token from an empty store", func() {
			_, err := s.Get()
			Convey("There should be a NoToken error", func() {
				So(err, ShouldEqual, ErrNoToken)
			})
		})

		Convey("When setting a token", func() {
			err := s.Set("the-token")
			Convey("There should be no error", func() {
				So(err, ShouldBeNil)
			})
			Convey("When getting the token", func() {
				token, err := s.Get()
				Convey("It should be returned", func() {
					So(err, ShouldBeNil)
					So(token, ShouldEqual, "the-token")
				})
			})

			Convey("When updating the token", func() {
				err := s.Set("updated-token")
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
				Convey("The updated token should be returned", func() {
					token, _ := s.Get()
					So(token, ShouldEqual, "updated-token")
				})
			})
		})
	}
}

func TestConnect(t *testing.T) {
	Convey("Given a new Context", t, func(c C) {

		var logs bytes.Buffer
		ctx := &log.Logger{
			Handler: text.New(&logs),
			Level:   log.DebugLevel,
		}
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		var dialed []string
		cloud := dummy.NewCloud(ctx)
		dial := func(token string) (backend.Cloud, error) {
			dialed = append(dialed, token)
			if token != "good" {
				return nil, errors.New("invalid token")
			}
			return cloud, nil
		}

		Convey("When building candidates with a saved and a configured token", func() {
			saved := NewMemory()
			saved.Set("saved-token")
			candidates := Candidates(ctx, saved, "configured-token")
			Convey("The saved token should be tried first", func() {
				So(candidates, ShouldResemble, []Source{
					{Name: "saved", Token: "saved-token"},
					{Name: "configured", Token: "configured-token"},
				})
			})
		})

		Convey("When building candidates with equal tokens", func() {
			saved := NewMemory()
			saved.Set("token")
			candidates := Candidates(ctx, saved, "token")
			Convey("The token should only be tried once", func() {
				So(candidates, ShouldHaveLength, 1)
			})
		})

		Convey("When building candidates without a saved token", func() {
			candidates := Candidates(ctx, NewMemory(), "configured-token")
			Convey("Only the configured token should be tried", func() {
				So(candidates, ShouldResemble, []Source{{Name: "configured", Token: "configured-token"}})
			})
		})

		Convey("When the saved token is invalid", func() {
			connected, source, err := Connect(ctx, []Source{
				{Name: "saved", Token: "expired"},
				{Name: "configured", Token: "good"},
			}, dial)
			Convey("The configured token should be used", func() {
				So(err, ShouldBeNil)
				So(connected == backend.Cloud(cloud), ShouldBeTrue)
				So(source.Name, ShouldEqual, "configured")
				So(dialed, ShouldResemble, []string{"expired", "good"})
			})
		})

		Convey("When the saved token is valid", func() {
			_, source, err := Connect(ctx, []Source{
				{Name: "saved", Token: "good"},
				{Name: "configured", Token: "other"},
			}, dial)
			Convey("The configured token should not be tried", func() {
				So(err, ShouldBeNil)
				So(source.Name, ShouldEqual, "saved")
				So(dialed, ShouldResemble, []string{"good"})
			})
		})

		Convey("When all tokens are invalid", func() {
			_, _, err := Connect(ctx, []Source{{Name: "configured", Token: "bad"}}, dial)
			Convey("The tokens should be exhausted", func() {
				So(err, ShouldEqual, ErrTokensExhausted)
			})
		})

		Convey("When there are no tokens", func() {
			_, _, err := Connect(ctx, nil, dial)
			Convey("The tokens should be exhausted", func() {
				So(err, ShouldEqual, ErrTokensExhausted)
			})
		})

		Convey("When persisting the token", func() {
			store := NewMemory()
			err := Persist(ctx, store, "good", cloud)
			Convey("There should be no error", func() {
				So(err, ShouldBeNil)
			})
			Convey("The token should be stored", func() {
				token, _ := store.Get()
				So(token, ShouldEqual, "good")
			})
			Convey("When the cloud rotates the token", func() {
				cloud.RotateToken("rotated")
				time.Sleep(10 * time.Millisecond)
				Convey("The rotated token should be stored", func() {
					token, _ := store.Get()
					So(token, ShouldEqual, "rotated")
				})
			})
		})
	})
}
