package httpx

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestAccessControlInfo(t *testing.T) {
	convey.Convey("Given a policy accepting play and interface with a key", t, func() {
		p := &AccessControlInfo{
			Accepts:               StreamPlay | StreamInterface,
			AuthorizationRequired: true,
			Key:                   &AuthenticationKey{ID: "u", Password: "p"},
		}

		convey.Convey("Granted streams are allowed", func() {
			convey.So(p.Allows(StreamPlay), convey.ShouldBeTrue)
			convey.So(p.Allows(StreamInterface), convey.ShouldBeTrue)
			convey.So(p.Allows(StreamRelay), convey.ShouldBeFalse)
		})

		convey.Convey("Only the exact key passes", func() {
			convey.So(p.CheckAuthorization("u", "p"), convey.ShouldBeTrue)
			convey.So(p.CheckAuthorization("u", "x"), convey.ShouldBeFalse)
			convey.So(p.CheckAuthorization("", ""), convey.ShouldBeFalse)
		})

		convey.Convey("Without a key nothing passes", func() {
			p.Key = nil
			convey.So(p.CheckAuthorization("u", "p"), convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given a policy that does not require authorization", t, func() {
		p := &AccessControlInfo{Accepts: StreamAll}

		convey.Convey("Any credentials pass", func() {
			convey.So(p.RequiresAuthorization(), convey.ShouldBeFalse)
			convey.So(p.CheckAuthorization("anyone", ""), convey.ShouldBeTrue)
		})
	})

	convey.Convey("A nil policy refuses everything", t, func() {
		var p *AccessControlInfo
		convey.So(p.Allows(StreamAll), convey.ShouldBeFalse)
		convey.So(p.RequiresAuthorization(), convey.ShouldBeFalse)
	})
}

func TestRequestCredentials(t *testing.T) {
	convey.Convey("Credentials are looked up in order", t, func() {
		convey.Convey("Authorization header first", func() {
			env, _ := newTestEnv(t, "GET /?auth=YTpi HTTP/1.1\r\nAuthorization: Basic dTpw\r\nCookie: auth=YzpkOmU=\r\n\r\n")
			u, p, ok := requestCredentials(env.Request)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(u+":"+p, convey.ShouldEqual, "u:p")
		})

		convey.Convey("Then the auth query parameter", func() {
			env, _ := newTestEnv(t, "GET /?auth=YTpi HTTP/1.1\r\nCookie: auth=YzpkOmU=\r\n\r\n")
			u, p, _ := requestCredentials(env.Request)
			convey.So(u+":"+p, convey.ShouldEqual, "a:b")
		})

		convey.Convey("Then the auth cookie; the password may contain colons", func() {
			env, _ := newTestEnv(t, "GET / HTTP/1.1\r\nCookie: auth=YzpkOmU=\r\n\r\n")
			u, p, _ := requestCredentials(env.Request)
			convey.So(u, convey.ShouldEqual, "c")
			convey.So(p, convey.ShouldEqual, "d:e")
		})

		convey.Convey("Other schemes are not Basic credentials", func() {
			env, _ := newTestEnv(t, "GET / HTTP/1.1\r\nAuthorization: Bearer abc\r\n\r\n")
			_, _, ok := requestCredentials(env.Request)
			convey.So(ok, convey.ShouldBeFalse)
		})
	})
}
