package router

import "log/slog"

// Router - moves the local participant between the idle, waiting and session
// views. The core only ever calls Navigate.
type Router interface {
	Navigate(path string)
}

// LogRouter - a Router for headless runs: it records navigation and hands the
// path to an optional callback so the hosting view can switch.
type LogRouter struct {
	logger *slog.Logger

	OnNavigate func(path string)
}

func NewLogRouter(logger *slog.Logger) *LogRouter {
	return &LogRouter{logger: logger.With("component", "router")}
}

func (that *LogRouter) Navigate(path string) {
	that.logger.Info("navigating", "path", path)

	if that.OnNavigate != nil {
		that.OnNavigate(path)
	}
}
