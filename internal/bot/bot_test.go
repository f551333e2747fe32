package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/db/memory"
	"serotonyl.ru/family-stars/internal/features/backup"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
	"serotonyl.ru/family-stars/internal/features/parent"
	"serotonyl.ru/family-stars/internal/jobs"
)

type fakeAPI struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

// last возвращает текст последнего отправленного сообщения.
func (f *fakeAPI) last(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	switch m := f.sent[len(f.sent)-1].(type) {
	case tgbotapi.MessageConfig:
		return m.Text
	case tgbotapi.DocumentConfig:
		return m.Caption
	}
	t.Fatalf("неожиданный тип сообщения %T", f.sent[len(f.sent)-1])
	return ""
}

const (
	groupChat  = int64(-100)
	parentUser = int64(1)
	childUser  = int64(2)
)

type harness struct {
	ctx context.Context
	api *fakeAPI
	bot *Bot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		AppTimezone:        "UTC",
		BotMaxInflight:     1,
		FamilyMaxChildren:  4,
		LedgerHistoryLimit: 50,
		LedgerLogLimit:     100,
		ParentSessionTTL:   24 * time.Hour,
		ParentMaxAttempts:  3,
		ParentLockout:      time.Hour,
	}
	store := memory.New()
	api := &fakeAPI{}

	families := family.NewService(store, cfg)
	parents := parent.NewService(store, families, cfg)
	stars := ledger.NewService(store, store, cfg)
	backups := backup.NewService(store, cfg)

	b := New(api, cfg, families, parents, Handlers{
		Family: family.NewHandler(families, parents, api),
		Ledger: ledger.NewHandler(stars, families, parents, parents, api),
		Parent: parent.NewHandler(parents, api),
		Backup: backup.NewHandler(backups, parents, api),
	})
	t.Cleanup(b.rateLimiter.Close)
	return &harness{ctx: context.Background(), api: api, bot: b}
}

func (h *harness) say(t *testing.T, chatID, userID int64, text string) string {
	t.Helper()
	chatType := "group"
	if chatID == userID {
		chatType = "private"
	}
	h.bot.handleUpdate(h.ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID, Type: chatType},
		From: &tgbotapi.User{ID: userID, FirstName: "Тест"},
	}})
	return h.api.last(t)
}

// setup регистрирует семью, открывает родительский режим, добавляет ребёнка и задание.
func (h *harness) setup(t *testing.T) {
	t.Helper()
	assert.Contains(t, h.say(t, groupChat, parentUser, "/family Ивановы"), "Семья «Ивановы» создана")
	assert.Contains(t, h.say(t, parentUser, parentUser, "/setpin 1234"), "PIN сохранён")
	assert.Contains(t, h.say(t, parentUser, parentUser, "/unlock 1234"), "открыт")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/addchild Маша"), "Маша в семье")
	assert.Contains(t, h.say(t, groupChat, childUser, "/iam маша"), "Привет, Маша")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/addtask 10 daily Почистить зубы #Гигиена"), "Почистить зубы")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/addreward 4 Мультики"), "Мультики")
}

func TestCommandParser(t *testing.T) {
	p := NewCommandParser()
	tests := []struct {
		text     string
		cmd      string
		args     []string
		isCommand bool
	}{
		{"/done 1", "done", []string{"1"}, true},
		{"  !Balance  ", "balance", nil, true},
		{".verify 2 15", "verify", []string{"2", "15"}, true},
		{"/stats@FamilyStarsBot Маша", "stats", []string{"Маша"}, true},
		{"привет", "", nil, false},
		{"/", "", nil, false},
		{"/@bot", "", nil, false},
	}
	for _, tt := range tests {
		cmd, args, ok := p.ParseCommand(tt.text)
		assert.Equal(t, tt.isCommand, ok, tt.text)
		assert.Equal(t, tt.cmd, cmd, tt.text)
		assert.Equal(t, tt.args, args, tt.text)
	}
}

func TestVerifyFlow(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	assert.Contains(t, h.say(t, groupChat, childUser, "/done 1"), "ждёт проверки")
	assert.Contains(t, h.say(t, groupChat, childUser, "/done 1"), "уже отмечено")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/pending"), "1. Маша — Почистить зубы (+10 звёзд)")

	// Ребёнок не может проверять сам себя
	assert.Contains(t, h.say(t, groupChat, childUser, "/verify 1"), "только для родителей")

	assert.Contains(t, h.say(t, groupChat, parentUser, "/verify 1"), "Баланс: 10 звёзд")
	assert.Equal(t, "⭐ Маша: 10 звёзд", h.say(t, groupChat, childUser, "/balance"))

	assert.Contains(t, h.say(t, groupChat, childUser, "/redeem Мультики"), "Баланс: 6 звёзд")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/history"), "награда: Мультики")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/stats Маша"), "Гигиена: 1/1 (100%), +10 звёзд")
}

func TestRejectDialog(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	h.say(t, groupChat, childUser, "/done 1")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/reject 1"), "Напишите причину")
	assert.Equal(t, "🚫 Отклонено: зубы не чищены", h.say(t, groupChat, parentUser, "зубы не чищены"))
	assert.Equal(t, "✅ Всё проверено", h.say(t, groupChat, parentUser, "/pending"))

	// После отказа задание можно отметить снова
	assert.Contains(t, h.say(t, groupChat, childUser, "/done 1"), "ждёт проверки")
}

func TestParentModeRequired(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	assert.Contains(t, h.say(t, groupChat, parentUser, "/lock"), "закрыт")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/adjust Маша +5 бонус"), "Сессия истекла")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/unlock 1234"), "только в личке")

	assert.Contains(t, h.say(t, parentUser, parentUser, "/unlock 0000"), "осталось попыток: 2")
	assert.Contains(t, h.say(t, parentUser, parentUser, "/unlock"), "Введите PIN")
	assert.Contains(t, h.say(t, parentUser, parentUser, "1234"), "открыт")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/adjust Маша +5 бонус"), "Баланс: 5 звёзд")
}

func TestUnregisteredChat(t *testing.T) {
	h := newHarness(t)

	assert.Contains(t, h.say(t, groupChat, parentUser, "/balance"), "Сначала зарегистрируйте семью")
	assert.Contains(t, h.say(t, parentUser, parentUser, "/balance"), "не родитель ни в одной семье")
	assert.Contains(t, h.say(t, groupChat, parentUser, "/help"), "Семейные звёзды")

	before := len(h.api.sent)
	h.say(t, groupChat, parentUser, "/nosuchcommand")
	assert.Len(t, h.api.sent, before, "на неизвестные команды бот молчит")
}

func TestBackupCommand(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	assert.Contains(t, h.say(t, groupChat, parentUser, "/backup"), "только в личке")
	assert.Contains(t, h.say(t, parentUser, parentUser, "/backup"), "детей 1")
}

func TestReminderText(t *testing.T) {
	assert.Equal(t, "", ReminderText(jobs.Counts{}))
	assert.Equal(t, "⏳ Ждут проверки: 3 задания — /pending", ReminderText(jobs.Counts{Pending: 3}))
	assert.Equal(t,
		"⏳ Ждут проверки: 1 задание — /pending\n📋 Сегодня ещё не отмечено: 5 заданий — /tasks",
		ReminderText(jobs.Counts{Pending: 1, MissedToday: 5}))
}

func TestNotifierSendsToFamilyChat(t *testing.T) {
	api := &fakeAPI{}
	n := NewNotifier(api)
	require.NoError(t, n.Notify(context.Background(), &family.Family{ID: "f", ChatID: groupChat}, jobs.Counts{Pending: 2}))
	require.Len(t, api.sent, 1)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, groupChat, msg.ChatID)
}
