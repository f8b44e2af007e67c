package bot

import (
	"context"
	"fmt"
	"strings"

	"babelbot/internal/storage"
	"babelbot/internal/translate"
	"babelbot/internal/transport"
	logx "babelbot/pkg/logx"
)

const (
	replyStart = "Hi! I translate group messages so everyone reads them in their own language.\n" +
		"Pick yours with /setlang <code>, for example /setlang fr."
	replySetlangUsage     = "Usage: /setlang <language code>, for example /setlang fr"
	replyLangCheckFailed  = "I could not verify that language right now. Please try again in a moment."
	replyNoLangYet        = "You have not picked a language yet. Use /setlang <code>."
	replyResponderFailed  = "Sorry, I could not come up with a reply."
	replyTranscribeFailed = "Sorry, I could not transcribe that voice message."
	replyAtCapacity       = "Sorry, I am at capacity and cannot join new chats right now."
)

func (r *Router) reply(ctx context.Context, chatID int64, text string, replyTo int) {
	_, err := r.adapter.SendText(ctx, chatID, text, &transport.SendOptions{
		ReplyTo:        replyTo,
		DisablePreview: true,
	})
	if err != nil {
		r.log.Warn("send failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// ---- messages ----

func (r *Router) handleMessage(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	if msg == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		return r.handleCommand(ctx, req, msg, text)
	}

	// Log the raw turn with a best-effort source language tag.
	err := r.store.AppendMessage(ctx, storage.MessageEntry{
		ChatID: msg.ChatID,
		UserID: msg.FromID,
		Role:   "user",
		Text:   text,
		Lang:   translate.DetectLanguage(text),
	})
	if err != nil {
		req.Logger.Warn("message log append failed", logx.Err(err))
	}
	r.usage.Increment(msg.ChatID)

	// Mentions (and any private chat) talk to the responder; everything else
	// in a group goes through the translation fan-out.
	if r.mentionsBot(text) || !msg.IsGroup {
		return r.converse(ctx, req, msg, text, r.stripMention(text))
	}
	_, err = r.engine.Fanout(ctx, msg.ChatID, msg.FromID, text, msg.ID)
	return err
}

func (r *Router) handleCommand(ctx context.Context, req *Request, msg *transport.Message, text string) error {
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		// "/setlang@SomeBot fr" must not be swallowed when aimed elsewhere.
		target := word[i+1:]
		if !strings.EqualFold(target, r.adapter.Username()) {
			return nil
		}
		word = word[:i]
	}
	args := parts[1:]

	switch strings.ToLower(word) {
	case "start":
		r.reply(ctx, msg.ChatID, replyStart, 0)
		return nil
	case "setlang":
		return r.cmdSetLang(ctx, req, msg, args)
	case "mylang":
		return r.cmdMyLang(ctx, req, msg)
	default:
		// Unknown commands are somebody else's business.
		return nil
	}
}

func (r *Router) cmdSetLang(ctx context.Context, req *Request, msg *transport.Message, args []string) error {
	if len(args) == 0 {
		r.reply(ctx, msg.ChatID, replySetlangUsage, msg.ID)
		return nil
	}
	code := strings.ToLower(strings.TrimSpace(args[0]))

	ok, err := r.langs.Supports(ctx, code)
	if err != nil {
		req.Logger.Warn("language check failed", logx.String("code", code), logx.Err(err))
		r.reply(ctx, msg.ChatID, replyLangCheckFailed, msg.ID)
		return nil
	}
	if !ok {
		r.reply(ctx, msg.ChatID, fmt.Sprintf("I do not recognize %q as a language code. Try something like fr, de or es.", code), msg.ID)
		return nil
	}

	if err := r.store.SetPreference(ctx, msg.ChatID, msg.FromID, code); err != nil {
		req.Logger.Error("preference save failed", logx.String("code", code), logx.Err(err))
		r.reply(ctx, msg.ChatID, "I could not save your preference. Please try again.", msg.ID)
		return err
	}
	r.reply(ctx, msg.ChatID, fmt.Sprintf("Got it! I will translate messages for you into %s.", code), msg.ID)
	return nil
}

func (r *Router) cmdMyLang(ctx context.Context, req *Request, msg *transport.Message) error {
	lang, ok, err := r.store.GetPreference(ctx, msg.ChatID, msg.FromID)
	if err != nil {
		req.Logger.Error("preference read failed", logx.Err(err))
		r.reply(ctx, msg.ChatID, "I could not look up your preference. Please try again.", msg.ID)
		return err
	}
	if !ok {
		r.reply(ctx, msg.ChatID, replyNoLangYet, msg.ID)
		return nil
	}
	r.reply(ctx, msg.ChatID, fmt.Sprintf("Your preferred language is %s.", lang), msg.ID)
	return nil
}

// ---- responder ----

func (r *Router) converse(ctx context.Context, req *Request, msg *transport.Message, logged, prompt string) error {
	entries, err := r.store.History(ctx, msg.ChatID, msg.FromID, r.historyLimit)
	if err != nil {
		req.Logger.Warn("history read failed", logx.Err(err))
		entries = nil
	}
	// The inbound message itself was already logged; the responder receives
	// it as the fresh user turn instead.
	if n := len(entries); n > 0 && entries[n-1].Text == logged {
		entries = entries[:n-1]
	}
	history := make([]Turn, 0, len(entries))
	for _, e := range entries {
		history = append(history, Turn{Role: e.Role, Content: e.Text})
	}

	answer, err := r.resp.Respond(ctx, history, prompt)
	if err != nil {
		req.Logger.Warn("responder failed", logx.Err(err))
		r.reply(ctx, msg.ChatID, replyResponderFailed, msg.ID)
		return nil
	}
	r.reply(ctx, msg.ChatID, answer, msg.ID)

	if err := r.store.AppendMessage(ctx, storage.MessageEntry{
		ChatID: msg.ChatID,
		UserID: msg.FromID,
		Role:   "assistant",
		Text:   answer,
	}); err != nil {
		req.Logger.Warn("message log append failed", logx.Err(err))
	}
	return nil
}

func (r *Router) mentionsBot(text string) bool {
	username := r.adapter.Username()
	if username == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(username))
}

func (r *Router) stripMention(text string) string {
	username := r.adapter.Username()
	if username == "" {
		return text
	}
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		if strings.EqualFold(strings.Trim(f, ",.:;!?"), "@"+username) {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// ---- voice ----

func (r *Router) handleVoice(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	if msg == nil || msg.VoiceFileID == "" {
		return nil
	}
	audio, err := r.adapter.DownloadFile(ctx, msg.VoiceFileID)
	if err != nil {
		req.Logger.Warn("voice download failed", logx.Err(err))
		r.reply(ctx, msg.ChatID, replyTranscribeFailed, msg.ID)
		return nil
	}
	text, err := r.trans.Transcribe(ctx, audio, "voice.ogg")
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			req.Logger.Warn("transcription failed", logx.Err(err))
		}
		r.reply(ctx, msg.ChatID, replyTranscribeFailed, msg.ID)
		return nil
	}
	r.reply(ctx, msg.ChatID, fmt.Sprintf("%s said: %s", displayName(msg.FromFullName, msg.FromUsername), text), msg.ID)
	return nil
}

// ---- membership ----

func (r *Router) handleMemberJoined(ctx context.Context, req *Request) error {
	mc := req.Update.Member
	if mc == nil {
		return nil
	}
	// Seed a preference so the new member receives translations immediately;
	// never clobber one they already picked.
	if _, ok, err := r.store.GetPreference(ctx, mc.ChatID, mc.UserID); err == nil && !ok {
		if r.defaultLang != "" {
			if err := r.store.SetPreference(ctx, mc.ChatID, mc.UserID, r.defaultLang); err != nil {
				req.Logger.Warn("default preference seed failed", logx.Err(err))
			}
		}
	}
	r.reply(ctx, mc.ChatID, fmt.Sprintf("Welcome, %s! I translate messages in this group. Pick your language with /setlang <code>.",
		displayName(mc.FullName, mc.Username)), 0)
	return nil
}

func (r *Router) handleMemberLeft(ctx context.Context, req *Request) error {
	mc := req.Update.Member
	if mc == nil {
		return nil
	}
	if err := r.store.RemoveMember(ctx, mc.ChatID, mc.UserID); err != nil {
		req.Logger.Warn("member removal failed", logx.Err(err))
		return err
	}
	return nil
}

func (r *Router) handleBotAdded(ctx context.Context, req *Request) error {
	mc := req.Update.Member
	if mc == nil {
		return nil
	}
	if !r.gate.TryAdmit(ctx, mc.ChatID) {
		r.reply(ctx, mc.ChatID, replyAtCapacity, 0)
		if err := r.adapter.LeaveChat(ctx, mc.ChatID); err != nil {
			req.Logger.Error("leave after refused admission failed",
				logx.Int64("chat_id", mc.ChatID), logx.Err(err))
			return err
		}
		return nil
	}
	if err := r.store.AddChat(ctx, mc.ChatID, mc.ChatTitle); err != nil {
		req.Logger.Error("chat registration failed", logx.Int64("chat_id", mc.ChatID), logx.Err(err))
	}
	r.reply(ctx, mc.ChatID, replyStart, 0)
	return nil
}

func (r *Router) handleBotRemoved(ctx context.Context, req *Request) error {
	mc := req.Update.Member
	if mc == nil {
		return nil
	}
	if err := r.store.RemoveChat(ctx, mc.ChatID); err != nil {
		req.Logger.Warn("chat removal failed", logx.Int64("chat_id", mc.ChatID), logx.Err(err))
		return err
	}
	return nil
}

func displayName(full, username string) string {
	if full != "" {
		return full
	}
	if username != "" {
		return "@" + username
	}
	return "friend"
}
