package motor

import (
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	merrors "github.com/tachdev/govern/motor/errors"
)

const testYaml = `
version: 1
motors:
  arm:
    node: 0x21
    bus: can0
    speed: 540
    stall:
      error: 40
      time_ms: 500
  wrist:
    node: 0x22
    bus: can0
    counts_per_degree: 2
`

func TestConfigParsing(t *testing.T) {
	Convey("parsing is successful", t, func() {
		config, err := ReadConfig(strings.NewReader(testYaml))
		So(err, ShouldBeNil)
		So(config.Motors, ShouldHaveLength, 2)

		Convey("overrides are applied", func() {
			arm := config.Motors["arm"]
			So(arm.Node, ShouldEqual, 0x21)
			So(arm.Speed, ShouldEqual, 540)
			So(arm.Stall.Error, ShouldEqual, 40)
			So(arm.Stall.TimeMS, ShouldEqual, 500)
		})

		Convey("unset fields keep the profile defaults", func() {
			arm := config.Motors["arm"]
			So(arm.Acceleration, ShouldEqual, DefaultAcceleration)
			So(arm.LoopPeriodMS, ShouldEqual, 4)
			So(arm.CountsPerDegree, ShouldEqual, 1)

			wrist := config.Motors["wrist"]
			So(wrist.CountsPerDegree, ShouldEqual, 2)
			So(wrist.Speed, ShouldEqual, DefaultSpeed)
		})
	})

	Convey("an unknown schema version is rejected", t, func() {
		_, err := ReadConfig(strings.NewReader("version: 9"))
		So(err, ShouldNotBeNil)
	})

	Convey("invalid sections are rejected with a configuration error", t, func() {
		bad := `
version: 1
motors:
  arm:
    counts_per_degree: -1
`
		_, err := ReadConfig(strings.NewReader(bad))
		So(err, ShouldHaveSameTypeAs, merrors.ConfigurationError{})
	})
}
