package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"
)

// resendClient is the concrete Sender backed by the Resend API.
type resendClient struct {
	apiKey     string
	fromAddr   string // e.g. "analyses@kinney.app"
	fromName   string // e.g. "Kinney"
	baseURL    string // client URL base, e.g. "https://app.kinney.app"
	endpoint   string
	httpClient *http.Client
}

// NewResendClient returns a Sender that delivers email via Resend.
func NewResendClient(apiKey, fromAddr, fromName, baseURL string) Sender {
	return &resendClient{
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		baseURL:  baseURL,
		endpoint: "https://api.resend.com/emails",
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ─── RESEND API SHAPES ────────────────────────────────────────────────────────

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Name       string `json:"name"`
		Message    string `json:"message"`
		StatusCode int    `json:"statusCode"`
	} `json:"error"`
}

// ─── SENDER IMPLEMENTATION ────────────────────────────────────────────────────

// SendAnalysisReady sends the "your AI analysis is ready" email.
func (c *resendClient) SendAnalysisReady(ctx context.Context, p AnalysisReadyParams) error {
	subject := "Votre analyse IA est prête"
	if p.ProjectTitle != "" {
		subject = fmt.Sprintf("%s : votre analyse IA est prête", p.ProjectTitle)
	}

	projectURL := fmt.Sprintf("%s/projects/%s/ai-analysis", c.baseURL, p.ProjectID)

	html := analysisReadyHTML(p, projectURL)

	return c.send(ctx, p.To, subject, html)
}

// ─── HTTP SEND ────────────────────────────────────────────────────────────────

func (c *resendClient) send(ctx context.Context, to, subject, html string) error {
	from := fmt.Sprintf("%s <%s>", c.fromName, c.fromAddr)

	reqBody := resendRequest{
		From:    from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("email: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("email: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("email: read response: %w", err)
	}

	var parsed resendResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return fmt.Errorf("email: unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return fmt.Errorf("email: Resend error %s: %s", parsed.Error.Name, parsed.Error.Message)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email: unexpected status %d: %.200s", resp.StatusCode, string(respBytes))
	}

	return nil
}

// ─── HTML TEMPLATES ───────────────────────────────────────────────────────────

func analysisReadyHTML(p AnalysisReadyParams, projectURL string) string {
	title := "votre projet"
	if p.ProjectTitle != "" {
		title = html.EscapeString(p.ProjectTitle)
	}

	skipped := ""
	if p.Skipped > 0 {
		skipped = fmt.Sprintf(" %d risque(s) n'ont pas pu être évalués par l'IA.", p.Skipped)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto; padding: 24px;">
  <h2 style="margin-bottom: 8px;">Analyse IA terminée</h2>
  <p>Bonjour,</p>
  <p>L'analyse IA de %s est terminée : %d risque(s) ont été comparés à votre
  évaluation Kinney.%s</p>
  <p style="margin: 32px 0;">
    <a href="%s"
       style="background: #0f172a; color: #ffffff; padding: 12px 24px;
              border-radius: 6px; text-decoration: none; font-weight: 600;">
      Voir l'analyse
    </a>
  </p>
  <p style="color: #6b7280; font-size: 14px;">
    Si le bouton ne fonctionne pas, copiez cette adresse :<br>
    <a href="%s" style="color: #6b7280;">%s</a>
  </p>
</body>
</html>`, title, p.Analyzed, skipped, projectURL, projectURL, projectURL)
}
