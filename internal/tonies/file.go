package tonies

import (
	"context"
	"net/http"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

const uploadTokenPath = "/file"

// RequestUploadToken asks the cloud for a single-use presigned POST. The
// request has no body and is never retried.
func (c *Client) RequestUploadToken(ctx context.Context, acct Account) (*UploadToken, error) {
	resp, err := c.Do(ctx, acct, http.MethodPost, uploadTokenPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out uploadTokenResponse
	if err := decodeBody(resp, uploadTokenPath, &out); err != nil {
		return nil, err
	}

	if out.FileID == "" || out.Request.URL == "" || len(out.Request.Fields) == 0 {
		return nil, &RemoteError{
			Method:     http.MethodPost,
			Path:       uploadTokenPath,
			StatusCode: resp.StatusCode,
			Body:       "upload token response is missing fileId, url or fields",
			Err:        apperr.ErrRemoteProtocol,
		}
	}

	return &UploadToken{
		FileID: out.FileID,
		URL:    out.Request.URL,
		Fields: out.Request.Fields,
	}, nil
}
