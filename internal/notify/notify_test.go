package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	storemem "github.com/parkerlabs/sitescribe/internal/store/memory"
)

func sampleNotification() pipeline.Notification {
	return pipeline.Notification{
		ProjectID: "proj-1",
		Subject:   "Significant site changes detected for Shop",
		Body:      "Latest crawl found 6 new pages.",
		Changes:   pipeline.ChangeSummary{New: 6, Unchanged: 34},
	}
}

func TestWebhookNotifier(t *testing.T) {
	t.Parallel()

	t.Run("PostsJSON", func(t *testing.T) {
		t.Parallel()
		var received pipeline.Notification
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		n := sampleNotification()
		require.NoError(t, NewWebhook(srv.URL, srv.Client()).Notify(context.Background(), n))
		assert.Equal(t, n.ProjectID, received.ProjectID)
		assert.Equal(t, 6, received.Changes.New)
	})

	t.Run("NonSuccessStatusIsError", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		err := NewWebhook(srv.URL, srv.Client()).Notify(context.Background(), sampleNotification())
		require.ErrorContains(t, err, "502")
	})

	t.Run("MissingURL", func(t *testing.T) {
		t.Parallel()
		err := NewWebhook("", nil).Notify(context.Background(), sampleNotification())
		require.Error(t, err)
	})
}

func TestEmailNotifier(t *testing.T) {
	t.Parallel()

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	notifier := NewEmail(EmailConfig{Host: "smtp.example.com", Port: 587, From: "alerts@example.com"}, "owner@shop.example")
	notifier.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, notifier.Notify(context.Background(), sampleNotification()))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"owner@shop.example"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Significant site changes detected for Shop")
	assert.Contains(t, string(gotMsg), "6 new pages")
}

func TestRouter(t *testing.T) {
	t.Parallel()

	t.Run("UsesScheduleWebhook", func(t *testing.T) {
		t.Parallel()
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits++
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		st := storemem.New()
		require.NoError(t, st.UpsertSchedule(context.Background(), pipeline.CrawlSchedule{
			ProjectID: "proj-1",
			Webhook:   srv.URL,
		}))

		router := NewRouter(st, EmailConfig{}, srv.Client(), zap.NewNop())
		require.NoError(t, router.Notify(context.Background(), sampleNotification()))
		assert.Equal(t, 1, hits)
	})

	t.Run("NoChannelConfigured", func(t *testing.T) {
		t.Parallel()
		st := storemem.New()
		require.NoError(t, st.UpsertSchedule(context.Background(), pipeline.CrawlSchedule{ProjectID: "proj-1"}))

		router := NewRouter(st, EmailConfig{}, nil, zap.NewNop())
		require.Error(t, router.Notify(context.Background(), sampleNotification()))
	})

	t.Run("ExtraNotifierStillDelivers", func(t *testing.T) {
		t.Parallel()
		st := storemem.New()
		require.NoError(t, st.UpsertSchedule(context.Background(), pipeline.CrawlSchedule{ProjectID: "proj-1"}))

		mem := NewMemory()
		router := NewRouter(st, EmailConfig{}, nil, zap.NewNop(), mem)
		require.NoError(t, router.Notify(context.Background(), sampleNotification()))
		require.Len(t, mem.Sent(), 1)
		assert.Equal(t, "proj-1", mem.Sent()[0].ProjectID)
	})
}

func TestMemoryNotifier(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	require.NoError(t, mem.Notify(context.Background(), sampleNotification()))
	require.Len(t, mem.Sent(), 1)

	mem.Err = errors.New("down")
	require.Error(t, mem.Notify(context.Background(), sampleNotification()))
	require.Len(t, mem.Sent(), 1)
}
