package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/engine"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

// Bot is the Telegram gateway. Each update is handled in its own
// goroutine; per-thread serialization happens inside the engine.
type Bot struct {
	api    *tgbotapi.BotAPI
	engine *engine.Engine
	logger *zap.Logger
}

func New(token string, eng *engine.Engine, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:    api,
		engine: eng,
		logger: logger,
	}, nil
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		go b.handleMessage(update.Message)
	}

	return nil
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	ctx := context.Background()

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	rawOwner := strconv.FormatInt(message.From.ID, 10)
	threadID := strconv.FormatInt(message.Chat.ID, 10)
	shared := message.Chat.IsGroup() || message.Chat.IsSuperGroup()

	resp, err := b.engine.HandleMessage(ctx, rawOwner, threadID, shared, content)
	if err != nil {
		b.logger.Error("Failed to handle message",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID),
			zap.String("thread_id", threadID))
		b.sendErrorMessage(message.Chat.ID, "抱歉，我这边出了点问题，请稍后再试。")
		return
	}

	b.sendReply(message.Chat.ID, message.MessageID, resp.Text)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "budget":
		b.handleBudget(ctx, message)
	case "summary":
		b.handleSummary(ctx, message)
	case "reminders":
		b.handleReminders(ctx, message)
	case "cancel":
		b.handleCancel(message)
	default:
		b.sendMessage(message.Chat.ID, "不认识这个命令，用 /help 看看我能做什么。")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `你好，我是家庭小助手 📝
直接用一句话告诉我要记的事，比如：
「记账：给大女儿买衣服 160元」
「儿子身高 128」
「提前一天提醒我 9月10号 打疫苗」

信息不全时我会追问，补一句就行。
用 /help 查看全部命令。`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `可用命令：
/budget - 查看本月预算使用情况
/summary - 查看本月支出汇总
/reminders - 查看待提醒事项
/cancel - 取消正在补充的记录

也可以直接发消息记账、记健康数据、设提醒。`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleBudget(ctx context.Context, message *tgbotapi.Message) {
	rawOwner := strconv.FormatInt(message.From.ID, 10)
	lines, err := b.engine.BudgetReport(ctx, rawOwner)
	if err != nil {
		b.logger.Error("Failed to build budget report",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "预算查询失败，请稍后再试。")
		return
	}
	if len(lines) == 0 {
		b.sendMessage(message.Chat.ID, "还没有配置预算。")
		return
	}

	response := "*本月预算：*\n"
	for _, line := range lines {
		marker := "✅"
		switch line.Status {
		case "warning":
			marker = "⚠️"
		case "exceeded":
			marker = "🚨"
		}
		response += fmt.Sprintf("%s %s：%s / %s\n",
			marker,
			escapeMarkdown(line.Label),
			escapeMarkdown(line.Spent.String()),
			escapeMarkdown(line.Limit.String()))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, response)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send budget report",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleSummary(ctx context.Context, message *tgbotapi.Message) {
	rawOwner := strconv.FormatInt(message.From.ID, 10)
	summary, err := b.engine.MonthSummary(ctx, rawOwner)
	if err != nil {
		b.logger.Error("Failed to build month summary",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "汇总查询失败，请稍后再试。")
		return
	}
	if summary.Count == 0 {
		b.sendMessage(message.Chat.ID, "本月还没有支出记录。")
		return
	}

	response := fmt.Sprintf("*%d年%d月支出：共 %s 元（%d 笔）*\n",
		summary.Year, int(summary.Month),
		escapeMarkdown(summary.Total.String()), summary.Count)
	for _, c := range summary.ByCategory {
		name := c.Category
		if name == "" {
			name = "未分类"
		}
		response += fmt.Sprintf("%s：%s\n", escapeMarkdown(name), escapeMarkdown(c.Total.String()))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, response)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send summary",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleReminders(ctx context.Context, message *tgbotapi.Message) {
	rawOwner := strconv.FormatInt(message.From.ID, 10)
	pending, err := b.engine.PendingReminders(ctx, rawOwner)
	if err != nil {
		b.logger.Error("Failed to list reminders",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "提醒查询失败，请稍后再试。")
		return
	}
	if len(pending) == 0 {
		b.sendMessage(message.Chat.ID, "没有待提醒的事项。")
		return
	}

	response := "待提醒事项：\n"
	for _, r := range pending {
		response += fmt.Sprintf("⏰ %s — %s\n", r.RemindAt.Format("01-02 15:04"), r.Message)
	}
	b.sendMessage(message.Chat.ID, response)
}

func (b *Bot) handleCancel(message *tgbotapi.Message) {
	threadID := strconv.FormatInt(message.Chat.ID, 10)
	if b.engine.CancelSession(threadID) {
		b.sendMessage(message.Chat.ID, "好的，这条记录不补了。")
	} else {
		b.sendMessage(message.Chat.ID, "当前没有等待补充的记录。")
	}
}

// Notify delivers a due reminder back to its thread. It implements
// reminder.Notifier.
func (b *Bot) Notify(_ context.Context, r *models.Reminder) error {
	chatID, err := strconv.ParseInt(r.ThreadID, 10, 64)
	if err != nil {
		return fmt.Errorf("reminder %s has a non-telegram thread %q: %w", r.ID, r.ThreadID, err)
	}

	msg := tgbotapi.NewMessage(chatID, "⏰ 提醒："+r.Message)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("sending reminder %s: %w", r.ID, err)
	}
	return nil
}

func escapeMarkdown(text string) string {
	specialChars := []string{"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendReply(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToID
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
