package enhance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"collabdocs/config"
	"collabdocs/metrics"
	"collabdocs/middleware"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// The enhancement service is an opaque, possibly-slow, possibly-failing
// external collaborator. Its outcome never touches session state; the
// client decides what to do with the suggestion.

var (
	apiKey  string
	baseURL string
	model   string
)

const systemPrompt = `You are a professional writing assistant. Improve the text you are given by fixing spelling, grammar, and clarity, but do NOT change the meaning. Return only the corrected text.`

// Init reads the upstream endpoint configuration.
func Init(cfg *config.Config) {
	apiKey = cfg.AIAPIKey
	baseURL = cfg.AIBaseURL
	model = cfg.AIModel
	if apiKey == "" {
		logrus.Warn("AI_API_KEY is not set. Text enhancement will not work.")
	}
}

type (
	EnhanceRequest struct {
		Text string `json:"text"`
	}

	EnhanceResponse struct {
		Improved string `json:"improved"`
	}

	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	chatCompletionRequest struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}

	chatCompletionResponse struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
)

// HandleEnhance proxies a text-improvement request to an OpenAI-compatible
// chat completions endpoint.
func HandleEnhance() http.HandlerFunc {
	client := &http.Client{Timeout: 2 * time.Minute}

	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.ClaimsFrom(r); !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		if apiKey == "" {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "AI enhancement is not configured on the server"})
			return
		}

		var req EnhanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Text required"})
			return
		}

		body, err := json.Marshal(chatCompletionRequest{
			Model: model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: req.Text},
			},
		})
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "AI enhancement failed"})
			return
		}

		proxyReq, err := http.NewRequestWithContext(r.Context(), "POST", baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "AI enhancement failed"})
			return
		}
		proxyReq.Header.Set("Authorization", "Bearer "+apiKey)
		proxyReq.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(proxyReq)
		if err != nil {
			metrics.EnhanceRequests.WithLabelValues("error").Inc()
			logrus.WithError(err).Error("AI enhancement upstream call failed")
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, map[string]string{"error": "AI enhancement failed"})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			metrics.EnhanceRequests.WithLabelValues("error").Inc()
			logrus.WithField("status", resp.StatusCode).Error("AI enhancement upstream returned an error")
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, map[string]string{"error": "AI enhancement failed"})
			return
		}

		var completion chatCompletionResponse
		if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil || len(completion.Choices) == 0 {
			metrics.EnhanceRequests.WithLabelValues("error").Inc()
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, map[string]string{"error": "AI enhancement failed"})
			return
		}

		metrics.EnhanceRequests.WithLabelValues("ok").Inc()
		render.JSON(w, r, EnhanceResponse{Improved: completion.Choices[0].Message.Content})
	}
}
