// Package openai backs the conversational responder and voice transcription
// with OpenAI's Chat Completions and Audio Transcription APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	logx "babelbot/pkg/logx"
)

const defaultEndpoint = "https://api.openai.com/v1"

type Config struct {
	APIKey             string
	Endpoint           string // override for tests, default OpenAI
	CompletionModel    string
	TranscriptionModel string
	SystemPrompt       string
	Timeout            time.Duration
}

// Message is one turn of a completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	apiKey             string
	endpoint           string
	completionModel    string
	transcriptionModel string
	systemPrompt       string
	client             *http.Client
	log                logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	completion := cfg.CompletionModel
	if completion == "" {
		completion = "gpt-3.5-turbo"
	}
	transcription := cfg.TranscriptionModel
	if transcription == "" {
		transcription = "whisper-1"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		apiKey:             cfg.APIKey,
		endpoint:           endpoint,
		completionModel:    completion,
		transcriptionModel: transcription,
		systemPrompt:       cfg.SystemPrompt,
		client:             &http.Client{Timeout: timeout},
		log:                log,
	}, nil
}

// Respond sends the persona prompt, prior turns and the new user message to
// the Chat Completions API and returns the assistant reply.
func (c *Client) Respond(ctx context.Context, history []Message, user string) (string, error) {
	msgs := make([]Message, 0, len(history)+2)
	if c.systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: c.systemPrompt})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: user})

	reqBody, err := json.Marshal(chatRequest{Model: c.completionModel, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshalling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("chat failed (status %d): %s", resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", errors.New("no choices returned from chat API")
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// Transcribe uploads voice audio to the transcription API and returns the
// recognized text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if filename == "" {
		filename = "voice.ogg"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(audio)); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	_ = writer.WriteField("model", c.transcriptionModel)
	_ = writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("creating transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("transcription failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding transcription: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
