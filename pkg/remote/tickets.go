package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/garnizeh/techsync/internal/config"
	"github.com/garnizeh/techsync/internal/identity"
)

const (
	OpPrivacy = "privacy_probe"
	OpAssign  = "assign"
	OpComment = "comment"
	OpMyself  = "myself"
)

const (
	privacyPath = "/rest/api/3/configuration/privacy"
	myselfPath  = "/rest/api/3/myself"
)

// Ack acknowledges a successful remote write.
type Ack struct {
	TicketID   string `json:"ticket_id"`
	Op         string `json:"op"`
	StatusCode int    `json:"status_code"`
	CommentID  string `json:"comment_id,omitempty"`
	Attempts   int    `json:"attempts"`
}

// Account is the remote account the client authenticates as.
type Account struct {
	AccountID    string `json:"accountId"`
	EmailAddress string `json:"emailAddress,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
}

type privacyResponse struct {
	Mode string `json:"mode"`
}

type assigneeRequest struct {
	AccountID    string `json:"accountId,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

type commentRequest struct {
	Body string `json:"body"`
}

type commentResponse struct {
	ID string `json:"id"`
}

// IsStrictPrivacyMode reports whether the remote system refuses lookups by
// email. A configured mode of strict or open answers without a network call.
func (c *Client) IsStrictPrivacyMode(ctx context.Context) (bool, error) {
	switch c.cfg.PrivacyMode {
	case config.PrivacyModeStrict:
		return true, nil
	case config.PrivacyModeOpen:
		return false, nil
	}

	var resp privacyResponse
	if _, _, err := c.call(ctx, OpPrivacy, http.MethodGet, privacyPath, nil, &resp); err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(resp.Mode)) {
	case "strict":
		return true, nil
	case "open":
		return false, nil
	}
	return false, &RemoteError{Op: OpPrivacy, Kind: KindDecode, StatusCode: http.StatusOK,
		Err: fmt.Errorf("unknown privacy mode %q", resp.Mode)}
}

// AssignTicket sets the remote assignee. The request body follows the
// identity's strategy; the client never picks one itself. Repeating the call
// with the same arguments leaves the remote state unchanged.
func (c *Client) AssignTicket(ctx context.Context, ticketID string, id identity.Identity) (Ack, error) {
	if strings.TrimSpace(ticketID) == "" {
		return Ack{}, &RemoteError{Op: OpAssign, Kind: KindInvalid, Err: errors.New("empty ticket id")}
	}
	if id.IsZero() {
		return Ack{}, &RemoteError{Op: OpAssign, Kind: KindInvalid, Err: errors.New("unresolved identity")}
	}

	var body assigneeRequest
	switch id.Strategy() {
	case identity.ByAccountID:
		body.AccountID = id.Value()
	case identity.ByEmail:
		body.EmailAddress = id.Value()
	default:
		return Ack{}, &RemoteError{Op: OpAssign, Kind: KindInvalid, Err: fmt.Errorf("unknown strategy %q", id.Strategy())}
	}

	status, attempts, err := c.call(ctx, OpAssign, http.MethodPut, issuePath(ticketID, "assignee"), body, nil)
	if err != nil {
		return Ack{}, err
	}
	logger.Debug("remote: ticket assigned",
		slog.String("ticket_id", ticketID),
		slog.String("strategy", string(id.Strategy())),
		slog.Int("attempts", attempts))
	return Ack{TicketID: ticketID, Op: OpAssign, StatusCode: status, Attempts: attempts}, nil
}

// AppendComment posts text as a new comment on the ticket.
func (c *Client) AppendComment(ctx context.Context, ticketID, text string) (Ack, error) {
	if strings.TrimSpace(ticketID) == "" {
		return Ack{}, &RemoteError{Op: OpComment, Kind: KindInvalid, Err: errors.New("empty ticket id")}
	}

	var resp commentResponse
	status, attempts, err := c.call(ctx, OpComment, http.MethodPost, issuePath(ticketID, "comment"), commentRequest{Body: text}, &resp)
	if err != nil {
		return Ack{}, err
	}
	return Ack{TicketID: ticketID, Op: OpComment, StatusCode: status, CommentID: resp.ID, Attempts: attempts}, nil
}

// Myself returns the account behind the configured token.
func (c *Client) Myself(ctx context.Context) (Account, error) {
	var acct Account
	if _, _, err := c.call(ctx, OpMyself, http.MethodGet, myselfPath, nil, &acct); err != nil {
		return Account{}, err
	}
	if acct.AccountID == "" {
		return Account{}, &RemoteError{Op: OpMyself, Kind: KindDecode, StatusCode: http.StatusOK, Err: errors.New("missing accountId")}
	}
	return acct, nil
}

// Health checks that the remote API is reachable and the token is accepted.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Myself(ctx)
	return err
}

func issuePath(ticketID, sub string) string {
	return "/rest/api/3/issue/" + url.PathEscape(ticketID) + "/" + sub
}
