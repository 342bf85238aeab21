package orders

import (
	"context"

	"github.com/go-orderbook/orderbook-go/query"
	"github.com/go-orderbook/orderbook-go/trading"
)

func (c *Controller) Register(ctx context.Context, username, password string) (*trading.RegisterResponse, error) {
	return query.Mutate(ctx, c.cache, func(ctx context.Context) (*trading.RegisterResponse, error) {
		return c.api.Register(ctx, trading.RegisterRequest{Username: username, Password: password})
	}, query.MutateOptions[*trading.RegisterResponse]{})
}

// Login stores the returned token in the session and refreshes the profile.
func (c *Controller) Login(ctx context.Context, username, password string) (*trading.LoginResponse, error) {
	return query.Mutate(ctx, c.cache, func(ctx context.Context) (*trading.LoginResponse, error) {
		return c.api.Login(ctx, trading.LoginRequest{Username: username, Password: password})
	}, query.MutateOptions[*trading.LoginResponse]{
		OnSuccess: func(res *trading.LoginResponse) {
			c.session.Set(res.Token)
			c.cache.Invalidate(KeyMe)
			c.logger.Infof("orders: logged in as %s", res.Username)
		},
	})
}

// Logout forgets the credential and every cached response.
func (c *Controller) Logout() {
	c.session.Clear()
	c.cache.Clear()
}

// AddMoney credits amount to the caller's balance.
func (c *Controller) AddMoney(ctx context.Context, amount int64) (*trading.AddMoneyResponse, error) {
	return query.Mutate(ctx, c.cache, func(ctx context.Context) (*trading.AddMoneyResponse, error) {
		return c.api.AddMoney(ctx, trading.AddMoneyRequest{Amount: amount})
	}, query.MutateOptions[*trading.AddMoneyResponse]{
		OnSuccess: func(*trading.AddMoneyResponse) {
			c.cache.Invalidate(KeyMe)
		},
	})
}
