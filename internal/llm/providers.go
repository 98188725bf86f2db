package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// apiError carries the HTTP status so the retry policy can classify the
// failure.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("llm: provider status %d: %s", e.status, e.message)
}

func (e *apiError) rateLimited() bool { return e.status == http.StatusTooManyRequests }

func (e *apiError) authFailure() bool {
	return e.status == http.StatusUnauthorized || e.status == http.StatusForbidden
}

// callModel routes to the provider implied by the model name. Gemini and GPT
// families are supported; anything else is a configuration error.
func (s *Service) callModel(ctx context.Context, modelName, prompt string, images [][]byte) (string, error) {
	switch {
	case strings.Contains(modelName, "gemini"):
		if s.geminiKey == "" {
			return "", &apiError{status: http.StatusUnauthorized, message: "GEMINI_API_KEY is not configured"}
		}
		return s.callGemini(ctx, modelName, prompt, images)
	case strings.Contains(modelName, "gpt"):
		if s.openaiKey == "" {
			return "", &apiError{status: http.StatusUnauthorized, message: "OPENAI_API_KEY is not configured"}
		}
		return s.callOpenAI(ctx, modelName, prompt, images)
	default:
		return "", fmt.Errorf("llm: unsupported model provider for %q", modelName)
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Service) callGemini(ctx context.Context, modelName, prompt string, images [][]byte) (string, error) {
	parts := []geminiPart{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "image/png",
			Data:     base64.StdEncoding.EncodeToString(img),
		}})
	}
	var req geminiRequest
	req.Contents = append(req.Contents, struct {
		Parts []geminiPart `json:"parts"`
	}{Parts: parts})

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", s.geminiBaseURL, modelName, s.geminiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	respBody, status, err := s.do(httpReq)
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if status != http.StatusOK {
		msg := string(respBody)
		if json.Unmarshal(respBody, &resp) == nil && resp.Error != nil {
			msg = resp.Error.Message
		}
		return "", &apiError{status: status, message: msg}
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("llm: unmarshal gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

type openAIContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type openAIChatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string              `json:"role"`
		Content []openAIContentPart `json:"content"`
	} `json:"messages"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Service) callOpenAI(ctx context.Context, modelName, prompt string, images [][]byte) (string, error) {
	content := []openAIContentPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		part := openAIContentPart{Type: "image_url"}
		part.ImageURL = &struct {
			URL string `json:"url"`
		}{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)}
		content = append(content, part)
	}

	var req openAIChatRequest
	req.Model = modelName
	req.Messages = append(req.Messages, struct {
		Role    string              `json:"role"`
		Content []openAIContentPart `json:"content"`
	}{Role: "user", Content: content})

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.openaiBaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.openaiKey)

	respBody, status, err := s.do(httpReq)
	if err != nil {
		return "", err
	}

	var resp openAIChatResponse
	if status != http.StatusOK {
		msg := string(respBody)
		if json.Unmarshal(respBody, &resp) == nil && resp.Error != nil {
			msg = resp.Error.Message
		}
		return "", &apiError{status: status, message: msg}
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("llm: unmarshal openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *Service) do(req *http.Request) ([]byte, int, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("llm: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
