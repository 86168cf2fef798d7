package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kodexArg/telegram-voice-to-text/internal/download"
)

// NewFetcher returns a download fetcher that resolves file ids through
// getFile and downloads the file over HTTP.
func NewFetcher(api BotAPI, client *http.Client) *download.HTTPFetcher {
	return download.NewHTTPFetcher(client, Resolver(api))
}

// Resolver maps a file reference to its direct download link. A getFile
// call still pending at the attempt deadline is a transient fault.
func Resolver(api BotAPI) download.URLResolver {
	return func(ctx context.Context, ref download.FileRef) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		url, err := callContext(ctx, func() (string, error) {
			return api.GetFileDirectURL(ref.FileID)
		})
		if err != nil {
			return "", classifyAPIError(fmt.Errorf("getFile %s: %w", ref.FileID, err))
		}
		return url, nil
	}
}

// classifyAPIError marks flood control and server errors as transient.
func classifyAPIError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > 0 || download.RetryableStatus(apiErr.Code) {
			return download.Transient(err)
		}
		return download.Permanent(err)
	}
	return download.ClassifyTransport(err)
}
