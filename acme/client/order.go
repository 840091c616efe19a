package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/avazar/letsencrypt-aw/acme"
	"github.com/avazar/letsencrypt-aw/acme/resources"
	"github.com/avazar/letsencrypt-aw/acmeerr"
)

// CreateOrder creates an Order resource for the given identifiers with the
// ACME server. The returned Order's ID field is populated from the Location
// header of the server's reply.
//
// For more information on Order creation see "Applying for Certificate
// Issuance" in RFC 8555:
// https://tools.ietf.org/html/rfc8555#section-7.4
func (c *Client) CreateOrder(ctx context.Context, identifiers []resources.Identifier) (*resources.Order, error) {
	if c.Account.ID == "" {
		return nil, acmeerr.New(acmeerr.Registration,
			"createOrder: account has not been registered")
	}
	if len(identifiers) == 0 {
		return nil, acmeerr.New(acmeerr.Protocol, "createOrder: no identifiers")
	}

	req := struct {
		Identifiers []resources.Identifier `json:"identifiers"`
	}{
		Identifiers: identifiers,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	newOrderURL, ok := c.GetEndpointURL(ctx, acme.NEW_ORDER_ENDPOINT)
	if !ok {
		return nil, acmeerr.New(acmeerr.Protocol,
			"ACME server missing %q endpoint in directory", acme.NEW_ORDER_ENDPOINT)
	}

	resp, err := c.signedRequest(ctx, newOrderURL, reqBody, nil)
	if err != nil {
		return nil, err
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusCreated {
		return nil, acmeerr.New(acmeerr.Protocol,
			"newOrder returned status code %d, expected %d",
			respOb.StatusCode, http.StatusCreated)
	}

	locHeader := respOb.Header.Get("Location")
	if locHeader == "" {
		return nil, acmeerr.New(acmeerr.Protocol,
			"newOrder response had no Location header")
	}

	order := &resources.Order{}
	if err := json.Unmarshal(resp.RespBody, order); err != nil {
		return nil, acmeerr.New(acmeerr.Protocol,
			"newOrder response was invalid JSON: %s", err)
	}
	order.ID = locHeader
	c.Account.Orders = append(c.Account.Orders, order.ID)

	c.log.Info("created order", "order", order.ID, "identifiers", identifiers)
	return order, nil
}

// UpdateOrder refreshes a given Order by fetching its ID URL from the ACME
// server with a POST-as-GET request. If this is successful the Order is
// mutated in place.
//
// Calling UpdateOrder is required to refresh an Order's Status field to
// synchronize the resource with the server-side representation; the client
// never updates an order optimistically.
func (c *Client) UpdateOrder(ctx context.Context, order *resources.Order) error {
	if order == nil {
		return acmeerr.New(acmeerr.Protocol, "updateOrder: order must not be nil")
	}
	if order.ID == "" {
		return acmeerr.New(acmeerr.Protocol, "updateOrder: order must have an ID")
	}

	resp, err := c.PostAsGet(ctx, order.ID)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.RespBody, order); err != nil {
		return acmeerr.New(acmeerr.Protocol,
			"order %q returned invalid JSON: %s", order.ID, err)
	}
	return nil
}

// UpdateAuthz refreshes a given Authorization by fetching its ID URL from the
// ACME server with a POST-as-GET request. If this is successful the
// Authorization is updated in place.
func (c *Client) UpdateAuthz(ctx context.Context, authz *resources.Authorization) error {
	if authz == nil {
		return acmeerr.New(acmeerr.Protocol, "updateAuthz: authz must not be nil")
	}
	if authz.ID == "" {
		return acmeerr.New(acmeerr.Protocol, "updateAuthz: authz must have an ID")
	}

	resp, err := c.PostAsGet(ctx, authz.ID)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.RespBody, authz); err != nil {
		return acmeerr.New(acmeerr.Protocol,
			"authorization %q returned invalid JSON: %s", authz.ID, err)
	}
	return nil
}

// pollOrder refreshes the order at the given fixed interval until done
// returns true, the order turns invalid, the timeout budget is exhausted, or
// the context is cancelled. The order is mutated in place from
// server-acknowledged state only.
func (c *Client) pollOrder(ctx context.Context, order *resources.Order, done func(*resources.Order) bool, interval time.Duration) error {
	deadline := c.clk.Now().Add(c.Polling.Timeout)

	for {
		if err := ctx.Err(); err != nil {
			return acmeerr.New(acmeerr.Timeout,
				"polling order %q cancelled: %s", order.ID, err)
		}

		if err := c.UpdateOrder(ctx, order); err != nil {
			return err
		}

		if order.Status == acme.STATUS_INVALID {
			detail := ""
			if order.Error != nil {
				detail = ": " + order.Error.String()
			}
			return acmeerr.New(acmeerr.IssuanceFailed,
				"order %q reached status %q%s", order.ID, order.Status, detail)
		}

		if done(order) {
			return nil
		}

		if !c.clk.Now().Add(interval).Before(deadline) {
			return acmeerr.New(acmeerr.Timeout,
				"order %q still %q after %s", order.ID, order.Status, c.Polling.Timeout)
		}

		c.log.V(1).Info("order not ready, sleeping",
			"order", order.ID, "status", order.Status, "interval", interval.String())
		c.clk.Sleep(interval)
	}
}

// WaitOrderReady polls the order until all of its authorizations have been
// satisfied and the order may be finalized (status "ready"). An order that
// was already finalized ("processing" or "valid") also satisfies the wait.
func (c *Client) WaitOrderReady(ctx context.Context, order *resources.Order) error {
	return c.pollOrder(ctx, order, func(o *resources.Order) bool {
		switch o.Status {
		case acme.STATUS_READY, acme.STATUS_PROCESSING, acme.STATUS_VALID:
			return true
		}
		return false
	}, c.Polling.ReadyInterval)
}

// WaitCertificate polls a finalized order until the server has issued the
// certificate and populated the order's Certificate URL (status "valid").
func (c *Client) WaitCertificate(ctx context.Context, order *resources.Order) error {
	return c.pollOrder(ctx, order, func(o *resources.Order) bool {
		return o.Status == acme.STATUS_VALID && o.Certificate != ""
	}, c.Polling.CertInterval)
}
