package trading

import (
	"runtime/debug"
	"strings"
	"sync"
)

const repoName = "github.com/go-orderbook/orderbook-go"

var (
	goVersion     string
	moduleVersion string
	once          = sync.Once{}
)

// GetVersion returns the running go version and the version of this module
// as recorded in the build info of the embedding program.
func GetVersion() (string, string) {
	once.Do(func() {
		buildInfo, found := debug.ReadBuildInfo()
		if !found {
			return
		}
		goVersion = buildInfo.GoVersion
		if buildInfo.Main.Path == repoName {
			moduleVersion = buildInfo.Main.Version
			return
		}
		for _, dep := range buildInfo.Deps {
			if strings.HasPrefix(dep.Path, repoName) {
				moduleVersion = dep.Version
				return
			}
		}
	})
	return goVersion, moduleVersion
}

func userAgent() string {
	g, m := GetVersion()
	if m == "" {
		m = "devel"
	}
	return "orderbook-go/" + m + " " + g
}
