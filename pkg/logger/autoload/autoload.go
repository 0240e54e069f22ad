// Package autoload initialises the global logger from LOG_* settings when
// imported.
package autoload

import (
	configx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/config"
	logx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
