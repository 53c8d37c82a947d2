package amocrm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/loan-portal/internal/config"
	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/testutil"
	"github.com/turtacn/loan-portal/pkg/errors"
)

const (
	contactJSON = `{"id":77,"name":"Иван Петров","custom_fields_values":[
		{"field_id":1,"field_name":"Телефон","field_code":"PHONE","values":[{"value":"+7 (900) 123-45-67","enum_code":"WORK"}]},
		{"field_id":2,"field_name":"Email","field_code":"EMAIL","values":[{"value":"ivan@example.com"}]}]}`
	leadsJSON = `{"_embedded":{"leads":[
		{"id":501,"name":"Займ","price":10000,"status_id":142,"pipeline_id":10,"responsible_user_id":3,
		 "created_at":1704067200,"updated_at":1704153600,
		 "custom_fields_values":[{"field_id":9,"field_name":"Срок займа","field_code":null,"values":[{"value":"21"}]}],
		 "_embedded":{"contacts":[{"id":77}]}},
		{"id":502,"name":"Займ 2","price":5000,"status_id":999,"pipeline_id":10,"created_at":1704067200,"updated_at":1704067200}]}}`
	pipelinesJSON = `{"_embedded":{"pipelines":[{"id":10,"name":"Основная воронка","_embedded":{"statuses":[
		{"id":142,"name":"Заявка одобрена","color":"#CCFF66"},{"id":143,"name":"Заявка отклонена","color":"#D5D8DB"}]}}]}}`
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithRetryWait(time.Millisecond, 2*time.Millisecond)}, opts...)
	c, err := NewClient(config.CRMConfig{BaseURL: srv.URL + "/", AccessToken: "tok", MaxRetries: 2}, testutil.NewMockLogger(), opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(config.CRMConfig{BaseURL: "ftp://x", AccessToken: "t"}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))

	_, err = NewClient(config.CRMConfig{BaseURL: "https://x.amocrm.ru"}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))

	c, err := NewClient(config.CRMConfig{BaseURL: "https://x.amocrm.ru/", AccessToken: "t"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://x.amocrm.ru", c.baseURL)
}

func TestFindContactByPhone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/contacts", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "+79001234567", r.URL.Query().Get("query"))
		fmt.Fprintf(w, `{"_embedded":{"contacts":[%s]}}`, contactJSON)
	})

	ct, err := c.FindContactByPhone(context.Background(), "+79001234567")
	require.NoError(t, err)
	assert.Equal(t, int64(77), ct.ID)
	assert.Equal(t, "+7 (900) 123-45-67", ct.Phone())
	assert.Equal(t, "ivan@example.com", ct.Email())
}

func TestFindContactByPhone_NoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	_, err := c.FindContactByPhone(context.Background(), "+7000")
	assert.True(t, errors.IsCode(err, errors.ErrCodeCRMNotFound))
}

func TestGetContact(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v4/contacts/77" {
			fmt.Fprint(w, contactJSON)
			return
		}
		http.NotFound(w, r)
	})

	ct, err := c.GetContact(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, "Иван Петров", ct.Name)

	_, err = c.GetContact(context.Background(), 78)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCRMNotFound))
}

func TestGetLead(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v4/leads/501" {
			assert.Equal(t, "contacts", r.URL.Query().Get("with"))
			fmt.Fprint(w, `{"id":501,"name":"Займ","price":"12500.50","status_id":142,"pipeline_id":10,
				"_embedded":{"contacts":[{"id":77}]}}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	l, err := c.GetLead(context.Background(), 501)
	require.NoError(t, err)
	assert.Equal(t, int64(77), l.MainContactID())
	assert.Equal(t, "12500.5", l.Price.String())

	_, err = c.GetLead(context.Background(), 502)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCRMNotFound))
}

func TestFetchClient(t *testing.T) {
	var pipelineCalls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v4/contacts":
			fmt.Fprintf(w, `{"_embedded":{"contacts":[%s]}}`, contactJSON)
		case "/api/v4/leads":
			assert.Equal(t, "77", r.URL.Query().Get("filter[contacts][0]"))
			assert.Equal(t, "250", r.URL.Query().Get("limit"))
			fmt.Fprint(w, leadsJSON)
		case "/api/v4/leads/pipelines":
			atomic.AddInt32(&pipelineCalls, 1)
			fmt.Fprint(w, pipelinesJSON)
		default:
			http.NotFound(w, r)
		}
	})

	cl, err := c.FetchClient(context.Background(), "+79001234567")
	require.NoError(t, err)
	assert.Equal(t, int64(77), cl.ID)
	assert.Equal(t, "+79001234567", cl.Phone)
	require.Len(t, cl.Leads, 2)

	first := cl.Leads[0]
	assert.Equal(t, deal.StatusApproved, first.StatusName)
	assert.Equal(t, "#CCFF66", first.StatusColor)
	assert.Equal(t, "10000", first.Price.String())
	assert.Equal(t, "Основная воронка", first.PipelineName)
	term, ok := deal.ExtractField(first.CustomFields, deal.FieldLoanTerm, deal.FieldCodeLoanTerm)
	require.True(t, ok)
	assert.Equal(t, "21", term)

	assert.Empty(t, cl.Leads[1].StatusName)
	assert.Equal(t, deal.PhaseOther, deal.Classify(cl.Leads[1].StatusName))

	_, err = c.FetchClient(context.Background(), "+79001234567")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&pipelineCalls))
}

func TestListLeads_Paging(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "contacts", q.Get("with"))
		assert.Equal(t, "250", q.Get("limit"))
		switch q.Get("page") {
		case "1":
			fmt.Fprint(w, `{"_links":{"next":{"href":"x"}},"_embedded":{"leads":[{"id":1,"_embedded":{"contacts":[{"id":5}]}}]}}`)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	leads, more, err := c.ListLeads(context.Background(), 1, 1000)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, leads, 1)
	assert.Equal(t, int64(5), leads[0].MainContactID())

	leads, more, err = c.ListLeads(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Empty(t, leads)
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	var observed []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, pipelinesJSON)
	}, WithObserver(func(op, outcome string, _ time.Duration) {
		observed = append(observed, op+":"+outcome)
	}))

	_, err := c.Pipelines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"pipelines.list:502", "pipelines.list:502", "pipelines.list:200"}, observed)
}

func TestRetryExhausted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.Pipelines(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeCRMUnavailable))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNoRetryOnClientErrors(t *testing.T) {
	cases := []struct {
		status int
		code   errors.ErrorCode
	}{
		{http.StatusUnauthorized, errors.ErrCodeCRMUnauthorized},
		{http.StatusBadRequest, errors.ErrCodeCRMBadResponse},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			var calls int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"title":"err"}`)
			})
			_, err := c.ContactLeads(context.Background(), 1)
			assert.True(t, errors.IsCode(err, tc.code), "got %v", err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestRateLimitHonoursRetryAfter(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, leadsJSON)
	})

	start := time.Now()
	leads, err := c.ContactLeads(context.Background(), 77)
	require.NoError(t, err)
	assert.Len(t, leads, 2)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestMalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"_embedded":`)
	})
	_, err := c.ContactLeads(context.Background(), 1)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCRMBadResponse))
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, WithRetryWait(time.Second, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Pipelines(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatusDirectory(t *testing.T) {
	dir := NewStatusDirectory([]Pipeline{{ID: 1, Name: "P"}})
	_, ok := dir.Status(1, 2)
	assert.False(t, ok)
	assert.Equal(t, "P", dir.PipelineName(1))
	assert.Empty(t, dir.PipelineName(2))
}
