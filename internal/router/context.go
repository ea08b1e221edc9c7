// Package router holds the application's procedures and the per-request
// context they run with.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/radekcihi/electrontrpc/pkg/db"
	"github.com/radekcihi/electrontrpc/pkg/dispatcher"
	"github.com/radekcihi/electrontrpc/pkg/events"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

const contextLogPrefix = "router:context"

// Store is the data access the procedures need. *db.Repository satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	FindUserByEmail(ctx context.Context, email string) (*db.User, error)
	ListUsers(ctx context.Context, params db.ListUsersParams) ([]db.User, int, error)
	CreateUser(ctx context.Context, params db.CreateUserParams) (*db.User, error)
}

// Context is built once per request and shared by every call of a batch.
type Context struct {
	Store       Store
	Events      events.EventPublisher
	AppVersion  string
	ClientRange string
	Meta        dispatcher.RequestMeta
}

// Deps are the long-lived handles the host constructs at startup.
type Deps struct {
	Store       Store
	Events      events.EventPublisher
	AppVersion  string
	ClientRange string
}

// NewContextFactory returns the dispatcher context factory bound to deps.
func NewContextFactory(deps Deps) dispatcher.ContextFactory[*Context] {
	pub := deps.Events
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	return func(_ context.Context, meta dispatcher.RequestMeta) (*Context, error) {
		if deps.Store == nil {
			slog.Error(fmt.Sprintf("%s - no store configured", contextLogPrefix))
			return nil, rpcerror.New(rpcerror.CodeInternal, "Store is not configured")
		}
		return &Context{
			Store:       deps.Store,
			Events:      pub,
			AppVersion:  deps.AppVersion,
			ClientRange: deps.ClientRange,
			Meta:        meta,
		}, nil
	}
}
