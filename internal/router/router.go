package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/radekcihi/electrontrpc/pkg/bootstrap"
	"github.com/radekcihi/electrontrpc/pkg/db"
	"github.com/radekcihi/electrontrpc/pkg/events"
	"github.com/radekcihi/electrontrpc/pkg/procedure"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
	"github.com/radekcihi/electrontrpc/pkg/semver"
)

const logPrefix = "router:router"

// Procedure paths.
const (
	PathHello       = "hello"
	PathUserList    = "user.list"
	PathUserByEmail = "user.byEmail"
	PathUserCreate  = "user.create"
	PathAppVersion  = "app.version"
)

const maxListLimit = 100

type HelloInput struct {
	Text *string `json:"text,omitempty"`
}

type HelloOutput struct {
	Greeting string `json:"greeting"`
}

type ListUsersInput struct {
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

type ListUsersOutput struct {
	Users []db.User `json:"users"`
	Total int       `json:"total"`
}

type UserByEmailInput struct {
	Email string `json:"email"`
}

type CreateUserInput struct {
	Email string  `json:"email"`
	Name  *string `json:"name,omitempty"`
	Bio   *string `json:"bio,omitempty"`
}

type VersionInput struct {
	Client string `json:"client,omitempty"`
}

// New builds the application registry.
func New() (*procedure.Registry[*Context], error) {
	r := procedure.NewRegistry[*Context]()

	regs := []func() error{
		func() error { return procedure.Query(r, PathHello, nil, hello) },
		func() error { return procedure.Query(r, PathUserList, validateList, listUsers) },
		func() error { return procedure.Query(r, PathUserByEmail, validateByEmail, userByEmail) },
		func() error { return procedure.Mutation(r, PathUserCreate, validateCreate, createUser) },
		func() error { return procedure.Query(r, PathAppVersion, validateVersion, appVersion) },
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return nil, fmt.Errorf("%s - %w", logPrefix, err)
		}
	}
	return r, nil
}

func hello(ctx context.Context, c *Context, in HelloInput) (HelloOutput, error) {
	user, err := c.Store.FindUserByEmail(ctx, bootstrap.ExampleUserEmail)
	if err != nil {
		return HelloOutput{}, err
	}
	text := "world"
	if in.Text != nil {
		text = *in.Text
	}
	return HelloOutput{Greeting: fmt.Sprintf("hello %s from %s", text, user.DisplayName())}, nil
}

func validateList(in ListUsersInput) error {
	if in.Page < 0 || in.Limit < 0 {
		return errors.New("page and limit must not be negative")
	}
	if in.Limit > maxListLimit {
		return fmt.Errorf("limit must be at most %d", maxListLimit)
	}
	return nil
}

func listUsers(ctx context.Context, c *Context, in ListUsersInput) (ListUsersOutput, error) {
	users, total, err := c.Store.ListUsers(ctx, db.ListUsersParams{Page: in.Page, Limit: in.Limit})
	if err != nil {
		return ListUsersOutput{}, err
	}
	if users == nil {
		users = []db.User{}
	}
	return ListUsersOutput{Users: users, Total: total}, nil
}

func validateEmail(email string) error {
	if !strings.Contains(strings.TrimSpace(email), "@") {
		return fmt.Errorf("invalid email %q", email)
	}
	return nil
}

func validateByEmail(in UserByEmailInput) error { return validateEmail(in.Email) }

func userByEmail(ctx context.Context, c *Context, in UserByEmailInput) (*db.User, error) {
	u, err := c.Store.FindUserByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, rpcerror.Newf(rpcerror.CodeNotFound, "No user with email %q", in.Email)
	}
	return u, nil
}

func validateCreate(in CreateUserInput) error { return validateEmail(in.Email) }

func createUser(ctx context.Context, c *Context, in CreateUserInput) (*db.User, error) {
	u, err := c.Store.CreateUser(ctx, db.CreateUserParams{Email: in.Email, Name: in.Name, Bio: in.Bio})
	if errors.Is(err, db.ErrDuplicate) {
		return nil, rpcerror.Wrap(rpcerror.CodeConflict, err, fmt.Sprintf("User %q already exists", in.Email))
	}
	if err != nil {
		return nil, err
	}

	if err := c.Events.Publish(ctx, events.NewAppAction(events.ActionUserCreated, u)); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s: %v", logPrefix, events.ActionUserCreated, err))
	}
	return u, nil
}

func validateVersion(in VersionInput) error {
	if in.Client == "" {
		return nil
	}
	_, err := semver.ParseClientRef(in.Client)
	return err
}

func appVersion(_ context.Context, c *Context, in VersionInput) (*semver.Compatibility, error) {
	params := semver.CheckParams{HostVersion: c.AppVersion, Range: c.ClientRange}
	if in.Client != "" {
		ref, err := semver.ParseClientRef(in.Client)
		if err != nil {
			return nil, rpcerror.Wrap(rpcerror.CodeBadRequest, err, "")
		}
		params.Client = ref
	}
	return semver.Check(params)
}
