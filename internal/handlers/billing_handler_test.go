package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/altrii/altrii/internal/handlers/testutil"
	"github.com/altrii/altrii/internal/models"
)

type stubLister struct {
	subs map[string][]*stripe.Subscription
}

func (s stubLister) ListSubscriptions(_ context.Context, customerID string) ([]*stripe.Subscription, error) {
	return s.subs[customerID], nil
}

func checkoutEvent(id, userID, customerID string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":%q,"customer":%q}}}`,
		id, userID, customerID)
}

func TestBillingRoutesDisabledWithoutProvider(t *testing.T) {
	env := testutil.NewEnv(t)
	account := env.SignUp("Secret123!")

	resp := env.Webhook(`{}`, "t=1,v1=00")
	require.Equal(t, http.StatusNotFound, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/billing/refresh", nil, account.AccessToken)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code, resp.Body.String())
}

func TestWebhookActivatesPlanOnce(t *testing.T) {
	lister := stubLister{subs: map[string][]*stripe.Subscription{
		"cus_42": {{ID: "sub_1", Status: stripe.SubscriptionStatusActive}},
	}}
	env := testutil.NewEnv(t, testutil.WithBilling(lister))
	account := env.SignUp("Secret123!")

	payload := checkoutEvent("evt_checkout", account.User.ID, "cus_42")
	resp := env.Webhook(payload, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var ack struct {
		Received bool `json:"received"`
		Applied  bool `json:"applied"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &ack)
	require.True(t, ack.Received)
	require.True(t, ack.Applied)

	var user models.User
	require.NoError(t, env.DB.Take(&user, "id = ?", account.User.ID).Error)
	require.NotNil(t, user.StripeCustomerID)
	require.Equal(t, "cus_42", *user.StripeCustomerID)

	resp = env.Webhook(payload, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &ack)
	require.False(t, ack.Applied)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithBilling(stubLister{}))

	resp := env.Webhook(checkoutEvent("evt_x", "u", "cus_1"), "t=1,v1=deadbeef")
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
}

func TestRefreshReadsProviderState(t *testing.T) {
	lister := stubLister{subs: map[string][]*stripe.Subscription{
		"cus_7": {{ID: "sub_7", Status: stripe.SubscriptionStatusActive}},
	}}
	env := testutil.NewEnv(t, testutil.WithBilling(lister))
	account := env.SignUp("Secret123!")

	customer := "cus_7"
	require.NoError(t, env.DB.Model(&models.User{}).Where("id = ?", account.User.ID).Update("stripe_customer_id", customer).Error)

	resp := env.Request(http.MethodPost, "/api/billing/refresh", nil, account.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var state struct {
		Plan       string `json:"plan"`
		PlanStatus string `json:"plan_status"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &state)
	require.Equal(t, models.PlanStatusActive, state.PlanStatus)
}
