package pagebatch

import (
	"os"

	"github.com/chararch/pagebatch/internal/logs"
)

//log
var logger = logs.NewLogger(os.Stdout, logs.Info)

//SetLogger set the logger used by all steps and jobs
func SetLogger(l logs.Logger) {
	if l == nil {
		l = logs.NewNopLogger()
	}
	logger = l
}

//task pool
const (
	DefaultJobPoolSize      = 10
	DefaultStepTaskPoolSize = 100
)

var jobPool = newTaskPool(DefaultJobPoolSize)
var stepPool = newTaskPool(DefaultStepTaskPoolSize)

//SetMaxRunningJobs set max number of jobs started with StartAsync running in parallel
func SetMaxRunningJobs(size int) {
	jobPool.SetMaxSize(size)
}

//SetMaxRunningSteps set max number of partition steps running in parallel
func SetMaxRunningSteps(size int) {
	stepPool.SetMaxSize(size)
}

//GetLogger the logger shared by the engine and its file and database packages
func GetLogger() logs.Logger {
	return logger
}
