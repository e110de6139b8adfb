package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"coursecast/internal/httpx"
	"coursecast/pkg/logx"
)

// statusStaleToken is the platform's rejection code for a rotated
// anti-forgery token.
const statusStaleToken = http.StatusUnprocessableEntity

// BatchRequest is one conversation-create call: a bounded recipient
// list, addressed individually (bulk, not a group thread), scoped to
// the course context.
type BatchRequest struct {
	CourseID     int64
	RecipientIDs []int64
	Subject      string
	Body         string

	// Token overrides the observer's choice when non-empty (the UI
	// may pass an explicit token with the send command).
	Token string
}

// SendBatch posts one message batch.
//
// Preconditions fail fast without touching the network: an empty body,
// an oversized batch, or no observed token. A stale-token rejection is
// recovered once by re-reading the freshest observed token; every
// other failure follows the generic retry policy.
func (c *Client) SendBatch(ctx context.Context, req BatchRequest) (DeliveryResult, error) {
	if len(req.RecipientIDs) == 0 {
		return DeliveryResult{}, fmt.Errorf("canvas: empty recipient batch")
	}
	if len(req.RecipientIDs) > c.batchCap {
		return DeliveryResult{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(req.RecipientIDs), c.batchCap)
	}
	if req.Body == "" {
		return DeliveryResult{}, fmt.Errorf("canvas: empty message body")
	}

	tok := req.Token
	if tok == "" {
		tok = c.currentToken()
	}
	if tok == "" {
		return DeliveryResult{}, ErrNoToken
	}

	result, err := c.postConversation(ctx, req, tok)
	if err != nil && httpx.StatusOf(err) == statusStaleToken {
		// The token rotated under us. The observer may already hold a
		// fresher one; retry exactly once with it.
		fresh := c.currentToken()
		c.log.Warn("stale token rejected, retrying with freshest observation",
			logx.Int64("course_id", req.CourseID),
			logx.Bool("token_changed", fresh != "" && fresh != tok))
		if fresh == "" {
			return DeliveryResult{}, fmt.Errorf("canvas: token rejected and no fresher one observed: %w", err)
		}
		result, err = c.postConversation(ctx, req, fresh)
	}
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("canvas: send batch to course %d: %w", req.CourseID, err)
	}
	return result, nil
}

func (c *Client) postConversation(ctx context.Context, req BatchRequest, tok string) (DeliveryResult, error) {
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, id := range req.RecipientIDs {
			if err := w.WriteField("recipients[]", strconv.FormatInt(id, 10)); err != nil {
				return nil, err
			}
		}
		fields := map[string]string{
			"subject":            req.Subject,
			"body":               req.Body,
			"context_code":       fmt.Sprintf("course_%d", req.CourseID),
			"group_conversation": "false",
			"bulk_message":       "true",
		}
		for k, v := range fields {
			if err := w.WriteField(k, v); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("/conversations", nil), &buf)
		if err != nil {
			return nil, err
		}
		hreq.Header.Set("Content-Type", w.FormDataContentType())
		hreq.Header.Set(CSRFHeader, tok)
		return hreq, nil
	})
	if err != nil {
		return DeliveryResult{}, err
	}

	// The platform answers with the created conversation objects; ids
	// are informational only.
	var created []struct {
		ID int64 `json:"id"`
	}
	ids := make([]int64, 0, 1)
	if err := json.Unmarshal(resp.Body, &created); err == nil {
		for _, c := range created {
			ids = append(ids, c.ID)
		}
	}
	return DeliveryResult{Recipients: len(req.RecipientIDs), ConversationIDs: ids}, nil
}
