package build

import (
	"encoding/json"
	"os"
	"slices"
	"time"
)

// Install prefix layout:
//
//	outDir/
//	  .hwloc-build.json   # build record of the last successful install
//	  build/              # out-of-tree autotools build directory
//	  hwloc/              # source tree
//	  include/
//	  lib/ or lib64/
//	    pkgconfig/hwloc.pc
const recordFile = ".hwloc-build.json"

// buildRecord describes the inputs of a successful install.
type buildRecord struct {
	Ref           string    `json:"ref"`
	Commit        string    `json:"commit"`
	LinkMode      string    `json:"link_mode"`
	ConfigureArgs []string  `json:"configure_args"`
	BuildTime     time.Time `json:"build_time"`
}

// sameInputs reports whether r was produced from the same inputs as o.
func (r *buildRecord) sameInputs(o *buildRecord) bool {
	if r == nil || o == nil || r.Commit == "" {
		return false
	}
	return r.Ref == o.Ref &&
		r.Commit == o.Commit &&
		r.LinkMode == o.LinkMode &&
		slices.Equal(r.ConfigureArgs, o.ConfigureArgs)
}

func loadRecord(path string) (*buildRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec buildRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func saveRecord(path string, rec *buildRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
