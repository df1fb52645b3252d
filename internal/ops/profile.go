package ops

import (
	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// StartProfiler pushes continuous profiles to a Pyroscope server. An empty
// address disables profiling and returns a no-op stop.
func StartProfiler(app, addr string, tags map[string]string) (stop func(), err error) {
	if addr == "" {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: app,
		ServerAddress:   addr,
		Tags:            tags,
		Logger:          profileLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "start pyroscope")
	}
	return func() {
		_ = profiler.Stop()
	}, nil
}

type profileLogger struct{}

func (profileLogger) Infof(format string, args ...interface{}) {
	logs.Infof("pyroscope: "+format, args...)
}

func (profileLogger) Debugf(_ string, _ ...interface{}) {}

func (profileLogger) Errorf(format string, args ...interface{}) {
	logs.Errorf("pyroscope: "+format, args...)
}
