package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, status int) (*Sender, *mailSend, *http.Header) {
	t.Helper()
	var (
		got     mailSend
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = w.Write([]byte(`{"errors":[{"message":"invalid template"}]}`))
		}
	}))
	t.Cleanup(srv.Close)

	client := resty.New().SetAuthToken("SG.key")
	return NewSender(client, srv.URL+"/v3/mail/send", "noreply@example.com", "Appraisals", "d-single", "d-bulk"), &got, &headers
}

func TestSend(t *testing.T) {
	s, got, headers := newTestSender(t, http.StatusAccepted)

	err := s.Send(context.Background(), Notification{
		ToEmail: "jane@example.com",
		ToName:  "Jane Doe",
		Data:    map[string]interface{}{"session_id": "abc 123", "mode": "live"},
	})
	require.NoError(t, err)

	require.Equal(t, "Bearer SG.key", headers.Get("Authorization"))
	require.Equal(t, "d-single", got.TemplateID)
	require.Equal(t, "noreply@example.com", got.From.Email)
	require.Len(t, got.Personalizations, 1)
	require.Equal(t, "jane@example.com", got.Personalizations[0].To[0].Email)
	require.Equal(t, "live", got.Personalizations[0].DynamicTemplateData["mode"])
}

func TestSendTemplateOverride(t *testing.T) {
	s, got, _ := newTestSender(t, http.StatusAccepted)
	require.NoError(t, s.Send(context.Background(), Notification{ToEmail: "a@b.c", TemplateID: s.BulkTemplateID()}))
	require.Equal(t, "d-bulk", got.TemplateID)
}

func TestSendUpstreamError(t *testing.T) {
	s, _, _ := newTestSender(t, http.StatusBadRequest)
	err := s.Send(context.Background(), Notification{ToEmail: "a@b.c"})
	require.ErrorContains(t, err, "status 400")
	require.ErrorContains(t, err, "invalid template")
}

func TestSendNoRecipient(t *testing.T) {
	s, _, _ := newTestSender(t, http.StatusAccepted)
	require.ErrorIs(t, s.Send(context.Background(), Notification{}), ErrNoRecipient)
}
