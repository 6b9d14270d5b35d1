package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CycleContext carries one polling cycle's context and logger.
type CycleContext struct {
	context.Context
	id      string
	started time.Time
	log     *logrus.Entry
}

func NewCycleContext(c context.Context) *CycleContext {
	id := uuid.NewString()
	return &CycleContext{
		Context: c,
		id:      id,
		started: time.Now(),
		log: logrus.WithFields(logrus.Fields{
			"component": "monitor",
			"cycle_id":  id,
		}),
	}
}

func (cc *CycleContext) L() *logrus.Entry {
	return cc.log
}

func (cc *CycleContext) ID() string {
	return cc.id
}

func (cc *CycleContext) Started() time.Time {
	return cc.started
}

// ForAccount scopes the logger to one tracked account.
func (cc *CycleContext) ForAccount(account string) *CycleContext {
	return &CycleContext{
		Context: cc.Context,
		id:      cc.id,
		started: cc.started,
		log:     cc.log.WithField("account", account),
	}
}
