package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vendio/wasession/dispatch"
	"github.com/vendio/wasession/sessions"
	"github.com/vendio/wasession/wa"
	"github.com/vendio/wasession/wa/wafakes"
)

const (
	testTenantID    = "tenant-1"
	testDestination = "15550009999@c.us"
	testImageURL    = "https://cdn.example/pic.png"
)

func setupDispatch(t *testing.T) (*dispatch.Service, *wafakes.FakeClient) {
	t.Helper()

	registry := sessions.NewRegistry()
	client := wafakes.NewFakeClient("self@s.whatsapp.net")
	registry.Register(testTenantID, client)
	return dispatch.NewService(registry), client
}

func TestImageFallbackKeepsFirstSuccess(t *testing.T) {
	service, client := setupDispatch(t)

	client.SendImageFn = func(string, string, string) (wa.SendReceipt, error) {
		return wa.SendReceipt{}, errors.New("image primitive down")
	}
	client.SendFileFn = func(string, string, wa.FileOptions) (wa.SendReceipt, error) {
		return wa.SendReceipt{}, errors.New("file primitive down")
	}
	client.SendMediaFn = func(string, string, string) (wa.SendReceipt, error) {
		return wa.SendReceipt{MessageID: "media-1"}, nil
	}

	result, err := service.SendMessage(context.Background(), testTenantID, testDestination, "", testImageURL)
	require.NoError(t, err)
	require.Nil(t, result.Text)
	require.NotNil(t, result.Image)
	require.True(t, result.Image.Sent)
	require.Equal(t, "media", result.Image.Primitive)
	require.Equal(t, "media-1", result.Image.MessageID)
}

func TestTextUnaffectedByImageFailure(t *testing.T) {
	service, client := setupDispatch(t)

	failAll := errors.New("media backend down")
	client.SendImageFn = func(string, string, string) (wa.SendReceipt, error) { return wa.SendReceipt{}, failAll }
	client.SendFileFn = func(string, string, wa.FileOptions) (wa.SendReceipt, error) { return wa.SendReceipt{}, failAll }
	client.SendMediaFn = func(string, string, string) (wa.SendReceipt, error) { return wa.SendReceipt{}, failAll }

	result, err := service.SendMessage(context.Background(), testTenantID, testDestination, "hi", testImageURL)
	require.NoError(t, err)

	require.NotNil(t, result.Text)
	require.True(t, result.Text.Sent, "text send is independent of the image failure")
	require.NotNil(t, result.Image)
	require.False(t, result.Image.Sent)
	require.Contains(t, result.Image.Error, "media backend down")
}

func TestPanickingPrimitiveCountsAsFailure(t *testing.T) {
	service, client := setupDispatch(t)

	client.SendImageFn = func(string, string, string) (wa.SendReceipt, error) { panic("boom") }
	client.SendFileFn = func(string, string, wa.FileOptions) (wa.SendReceipt, error) {
		return wa.SendReceipt{MessageID: "file-1"}, nil
	}

	result, err := service.SendMessage(context.Background(), testTenantID, testDestination, "", testImageURL)
	require.NoError(t, err)
	require.True(t, result.Image.Sent)
	require.Equal(t, "file", result.Image.Primitive)
}

func TestSendMessageRequiresContent(t *testing.T) {
	service, _ := setupDispatch(t)

	_, err := service.SendMessage(context.Background(), testTenantID, testDestination, "", "")
	require.Error(t, err)
}

func TestSendMessageRequiresSession(t *testing.T) {
	service, _ := setupDispatch(t)

	_, err := service.SendMessage(context.Background(), "unknown-tenant", testDestination, "hi", "")
	require.ErrorIs(t, err, sessions.ErrNoSession)
}

func TestSendFileMessageFallsBackToMedia(t *testing.T) {
	service, client := setupDispatch(t)

	var gotOpts wa.FileOptions
	client.SendFileFn = func(_, _ string, opts wa.FileOptions) (wa.SendReceipt, error) {
		gotOpts = opts
		return wa.SendReceipt{}, errors.New("file primitive down")
	}
	var gotCaption string
	client.SendMediaFn = func(_, _ string, caption string) (wa.SendReceipt, error) {
		gotCaption = caption
		return wa.SendReceipt{MessageID: "media-2"}, nil
	}

	opts := wa.FileOptions{Caption: "quarterly report", FileName: "q3.pdf", MimeType: "application/pdf"}
	result, err := service.SendFileMessage(context.Background(), testTenantID, "sales@g.us", "https://cdn.example/q3.pdf", opts)
	require.NoError(t, err)
	require.True(t, result.Sent)
	require.Equal(t, "media", result.Primitive)
	require.Equal(t, opts, gotOpts)
	require.Equal(t, "quarterly report", gotCaption)
}

func TestSendFileMessageReportsExhaustedFallbacks(t *testing.T) {
	service, client := setupDispatch(t)

	client.SendFileFn = func(string, string, wa.FileOptions) (wa.SendReceipt, error) {
		return wa.SendReceipt{}, errors.New("file primitive down")
	}
	client.SendMediaFn = func(string, string, string) (wa.SendReceipt, error) {
		return wa.SendReceipt{}, errors.New("media primitive down")
	}

	result, err := service.SendFileMessage(context.Background(), testTenantID, testDestination, "https://cdn.example/q3.pdf", wa.FileOptions{})
	require.NoError(t, err, "exhausted fallbacks surface as a structured result, not an error")
	require.False(t, result.Sent)
	require.Contains(t, result.Error, "media primitive down")
}
