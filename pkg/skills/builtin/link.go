package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/version"
	"github.com/pkg/errors"
)

// LinkSkill adds the content behind a URL or a local path to the current context.
type LinkSkill struct {
	client  *http.Client
	domains *DomainFilter
}

type LinkInput struct {
	URL      string `json:"url,omitempty" jsonschema:"description=http(s) URL to fetch"`
	Path     string `json:"path,omitempty" jsonschema:"description=Local file, relative to the document directory"`
	Variable string `json:"variable,omitempty" jsonschema:"description=Variable that receives the content"`
}

func (s *LinkSkill) Name() string { return "link" }

func (s *LinkSkill) Description() string {
	return "Add referenced content to the current context. HTML is converted to Markdown."
}

func (s *LinkSkill) Parameters() *jsonschema.Schema {
	return skills.GenerateSchema[LinkInput]()
}

func (s *LinkSkill) RegisterAsTool() bool { return true }

func (s *LinkSkill) Execute(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	var in LinkInput
	if err := skills.Bind(s.Parameters(), params, &in); err != nil {
		return skills.Result{}, err
	}
	if (in.URL == "") == (in.Path == "") {
		return skills.Result{}, errors.New("exactly one of --url and --path is required")
	}

	var (
		content string
		source  string
		err     error
	)
	if in.URL != "" {
		source = in.URL
		content, err = s.fetch(ctx, in.URL)
	} else {
		source = in.Path
		path := resolvePath(api, in.Path)
		content, err = readText(path)
		if err == nil && isHTMLFile(path) {
			content = convertHTMLToMarkdown(ctx, content)
		}
	}
	if err != nil {
		return skills.Result{}, err
	}

	return skills.Result{
		Value: content,
		Messages: []contexts.Message{
			contexts.NewMessage(contexts.RoleAgent, fmt.Sprintf("[link] %s\n\n%s", source, strings.TrimSpace(content))),
		},
	}, nil
}

func isHTMLFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}

func (s *LinkSkill) fetch(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}
	if s.domains != nil {
		allowed, err := s.domains.Allowed(ctx, rawURL)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", errors.Errorf("domain %s is not in the allowed domains list", parsed.Hostname())
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/octet-stream") ||
		strings.Contains(contentType, "application/zip") ||
		strings.Contains(contentType, "application/pdf") ||
		strings.Contains(contentType, "image/") ||
		strings.Contains(contentType, "audio/") ||
		strings.Contains(contentType, "video/") {
		return "", errors.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxOutputBytes*10))
	if err != nil {
		return "", err
	}
	content := string(body)
	if strings.Contains(contentType, "text/html") {
		content = convertHTMLToMarkdown(ctx, content)
	}
	if len(content) > MaxOutputBytes {
		content = content[:MaxOutputBytes] + fmt.Sprintf("\n\n[TRUNCATED - content exceeded %d bytes]", MaxOutputBytes)
	}
	return content, nil
}

// convertHTMLToMarkdown converts HTML content to Markdown.
func convertHTMLToMarkdown(ctx context.Context, htmlContent string) string {
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(htmlContent)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("Failed to convert HTML to Markdown, returning raw HTML")
		return htmlContent
	}
	return markdown
}
