package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kalambet/briefd/internal/channel"
)

type kakaoTokenRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"` // seconds
}

type kakaoStatus struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

func (d Deps) kakaoStatus() kakaoStatus {
	return kakaoStatus{
		Configured: d.KakaoConfigured,
		Connected:  d.Tokens != nil && d.Tokens.Connected(),
	}
}

func handleKakaoToken(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Tokens == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "kakao token storage is not available")
			return
		}
		var req kakaoTokenRequest
		if !decodeValid(w, r, kakaoTokenSchema, &req) {
			return
		}
		expiresIn := time.Duration(req.ExpiresIn) * time.Second
		if err := deps.Tokens.Save(req.AccessToken, req.RefreshToken, expiresIn); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving kakao token: %v", err)
			return
		}
		deps.logger().Info("kakao token stored", "has_refresh", req.RefreshToken != "", "expires_in", expiresIn)
		writeJSON(w, http.StatusOK, deps.kakaoStatus())
	}
}

func handleKakaoStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.kakaoStatus())
	}
}

func handleKakaoTest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := deps.kakaoStatus()
		switch {
		case !st.Configured:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kakao REST API key is not configured (set BRIEFD_KAKAO_REST_API_KEY)")
			return
		case !st.Connected || deps.Kakao == nil:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kakao is not connected; store a token with PUT /channels/kakao/token")
			return
		}

		text := fmt.Sprintf("briefd test message.\n\nCurrent time: %s\n\nKakao delivery is working.", time.Now().Format("2006-01-02 15:04 MST"))
		out := deps.Kakao.Send(r.Context(), channel.Message{Title: "Test", Text: text})
		if !out.Success {
			httpError(w, http.StatusBadGateway, "api_error", "kakao test failed: %s", out.Error)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleTelegramStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"configured": deps.TelegramConfigured})
	}
}

type telegramTestRequest struct {
	ChatID   string `json:"chatId"`
	BotToken string `json:"botToken"`
}

func handleTelegramTest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Telegram == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "telegram sender is not available")
			return
		}
		var req telegramTestRequest
		if !decodeValid(w, r, telegramTestSchema, &req) {
			return
		}

		target := channel.TelegramTarget{ChatID: req.ChatID, BotToken: req.BotToken}
		out := deps.Telegram.Send(r.Context(), target, channel.Message{
			Title: "briefd test",
			Text:  "Telegram delivery test message.",
		})
		if !out.Success {
			httpError(w, http.StatusBadGateway, "api_error", "telegram test failed: %s", out.Error)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
