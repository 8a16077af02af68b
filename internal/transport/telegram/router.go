package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"repostbot/internal/engine"
	"repostbot/internal/storage"
	"repostbot/internal/vk"
	"repostbot/pkg/tgui"
)

// Button labels and replies stay in Russian: that is the bot's audience.
const (
	btnAddLabel    = "Добавить группу"
	btnDelLabel    = "Удалить группу"
	btnCancelLabel = "Отмена"
)

const opTimeout = 2 * time.Minute

var wallRef = regexp.MustCompile(`^wall-(\d+)_`)

// Router wires the conversational flows onto the bot: subscribing,
// unsubscribing, the admin mass-mail, and the admin on-demand sync.
type Router struct {
	bot      *Bot
	store    *storage.Store
	feed     engine.Feed
	eng      *engine.Engine
	sessions *sessions

	menu     *tele.ReplyMarkup
	cancelKb *tele.ReplyMarkup
}

func NewRouter(bot *Bot, store *storage.Store, feed engine.Feed, eng *engine.Engine) *Router {
	return &Router{
		bot:      bot,
		store:    store,
		feed:     feed,
		eng:      eng,
		sessions: newSessions(),
	}
}

func (r *Router) Register() {
	b := r.bot.tele

	r.menu = &tele.ReplyMarkup{ResizeKeyboard: true}
	btnAdd := r.menu.Text(btnAddLabel)
	btnDel := r.menu.Text(btnDelLabel)
	r.menu.Reply(r.menu.Row(btnAdd), r.menu.Row(btnDel))

	r.cancelKb = &tele.ReplyMarkup{ResizeKeyboard: true}
	btnCancel := r.cancelKb.Text(btnCancelLabel)
	r.cancelKb.Reply(r.cancelKb.Row(btnCancel))

	b.Handle("/start", r.onHelp)
	b.Handle("/help", r.onHelp)
	b.Handle(&btnAdd, r.onAddButton)
	b.Handle(&btnDel, r.onDelButton)
	b.Handle(&btnCancel, r.onCancel)
	b.Handle("/spam", r.adminOnly(r.onSpam))
	b.Handle("/sync", r.adminOnly(r.onSync))
	b.Handle(tele.OnText, r.onText)
}

func (r *Router) adminOnly(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil || c.Sender().ID != r.bot.adminID {
			return nil
		}
		return h(c)
	}
}

func (r *Router) onHelp(c tele.Context) error {
	name := ""
	if c.Sender() != nil {
		name = c.Sender().FirstName
	}
	text := fmt.Sprintf(
		"Привет %s!\n"+
			"Я бот для пересылки постов из групп Вконтакте. "+
			"Для начала нажмите на кнопку '%s' "+
			"и отправьте ссылку на группу, короткое имя группы в ВК или любой пост с ее стены, "+
			"и я буду пересылать вам новые посты как только они появятся!\n"+
			"P.S.\n"+
			"ссылка на группу - https://vk.com/eastwindiscoming\n"+
			"ее короткое имя - eastwindiscoming",
		name, btnAddLabel)
	return c.Send(text, r.menu, tele.NoPreview)
}

func (r *Router) onAddButton(c tele.Context) error {
	r.sessions.set(c.Sender().ID, session{st: stateAwaitAdd})
	return c.Send("Введите ссылку на группу которую хотите добавить", r.cancelKb)
}

func (r *Router) onDelButton(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	userID := c.Sender().ID

	sub, err := r.store.GetSubscriber(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Send("Вы не являетесь пользователем бота, вам просто нечего удалять")
	}
	if err != nil {
		return err
	}
	if len(sub.Subscriptions) == 0 {
		return c.Send("Вы не подписаны ни на одну группу и вам нечего удалять")
	}

	var lines []string
	domains := make([]string, 0, len(sub.Subscriptions))
	for i, edge := range sub.Subscriptions {
		title := edge.Domain
		if ch, err := r.store.GetChannel(ctx, edge.Domain); err == nil {
			title = ch.Title
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, tgui.Link(title, "https://vk.com/"+edge.Domain)))
		domains = append(domains, edge.Domain)
	}
	lines = append(lines, fmt.Sprintf("\nВведите номер группы из списка которую хотите удалить\nДиапазон ввода от 1 до %d", len(domains)))

	r.sessions.set(userID, session{st: stateAwaitDel, domains: domains})
	return c.Send(strings.Join(lines, "\n"), r.cancelKb, tele.ModeHTML, tele.NoPreview)
}

func (r *Router) onCancel(c tele.Context) error {
	r.sessions.clear(c.Sender().ID)
	return c.Send("Возврат на главный экран", r.menu)
}

func (r *Router) onSpam(c tele.Context) error {
	r.sessions.set(c.Sender().ID, session{st: stateAwaitSpam})
	return c.Send("Ожидаю текста для рассылки", r.cancelKb)
}

func (r *Router) onSync(c tele.Context) error {
	if err := c.Send("Запускаю внеочередную проверку..."); err != nil {
		return err
	}
	// The pass can take minutes; never block the handler on it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		updated, err := r.eng.RunPass(ctx)
		if err != nil {
			r.bot.NotifyAdmin("Проверка завершилась с ошибкой: " + err.Error())
			return
		}
		r.bot.NotifyAdmin(fmt.Sprintf("Проверка завершена, обновлено групп: %d", updated))
	}()
	return nil
}

// onText dispatches free-form input to whatever flow the user is in.
func (r *Router) onText(c tele.Context) error {
	ses := r.sessions.get(c.Sender().ID)
	switch ses.st {
	case stateAwaitAdd:
		return r.handleAddInput(c)
	case stateAwaitDel:
		return r.handleDelInput(c, ses)
	case stateAwaitSpam:
		return r.handleSpamInput(c)
	default:
		return nil
	}
}

func (r *Router) handleAddInput(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	userID := c.Sender().ID

	ref := parseGroupRef(c.Text())
	if ref == "" {
		return c.Send("Ссылка не содержит короткого имени группы или ее id\nПопробуйте снова")
	}
	r.bot.log.Info().Int64("user", userID).Str("ref", ref).Msg("subscribe attempt")

	query := ref
	if m := wallRef.FindStringSubmatch(ref); m != nil {
		query = m[1]
	}
	info, err := r.feed.GroupInfo(ctx, query)
	if errors.Is(err, vk.ErrNotFound) {
		return c.Send("Такой группы не существует\nПопробуйте снова")
	}
	if err != nil {
		r.bot.log.Warn().Err(err).Str("ref", ref).Msg("group lookup failed")
		return c.Send("Не получилось связаться с ВК, попробуйте позже")
	}
	if info.Closed {
		return c.Send("Это приватная группа и бот не может ее обработать")
	}
	domain := info.Domain

	if _, err := r.store.SubscriptionWatermark(ctx, userID, domain); err == nil {
		r.sessions.clear(userID)
		return c.Send("Вы уже подписаны на группу", r.menu)
	}

	if ok, err := r.store.SubscriberExists(ctx, userID); err != nil {
		return err
	} else if !ok {
		if err := r.store.CreateSubscriber(ctx, userID); err != nil {
			return err
		}
	}
	if ok, err := r.store.ChannelExists(ctx, domain); err != nil {
		return err
	} else if !ok {
		if err := r.store.CreateChannel(ctx, domain, info.ID, info.Name); err != nil {
			return err
		}
	}
	if err := r.store.Subscribe(ctx, domain, userID); err != nil {
		return err
	}

	if err := c.Send(fmt.Sprintf(
		"Группа \"%s\" успешно добавлена в ваши подписки\n"+
			"Для проверки вам отправляется закрепленный или в случае его отсутствия последний пост группы",
		info.Name), r.menu); err != nil {
		return err
	}

	// First content goes out synchronously; the edge watermark lands on the
	// delivered post's timestamp so the next pass won't re-send it.
	if _, err := r.eng.SendLatest(ctx, domain, userID, true); err != nil {
		r.bot.log.Warn().Err(err).Int64("user", userID).Str("channel", domain).Msg("first delivery failed")
	}
	r.sessions.clear(userID)
	return nil
}

func (r *Router) handleDelInput(c tele.Context, ses session) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	userID := c.Sender().ID

	n, err := strconv.Atoi(strings.TrimSpace(c.Text()))
	if err != nil {
		return c.Send("Вы должны ввести порядковый номер группы из указанного выше списка\nПопробуйте еще")
	}
	if n < 1 || n > len(ses.domains) {
		return c.Send("Вы ввели число которого нет в списке\nПопробуйте еще")
	}
	domain := ses.domains[n-1]

	r.bot.log.Info().Int64("user", userID).Str("channel", domain).Msg("unsubscribe")
	if err := r.store.Unsubscribe(ctx, domain, userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	r.sessions.clear(userID)
	return c.Send("Группа успешно удалена", r.menu)
}

// handleSpamInput copies the admin's message to every subscriber.
func (r *Router) handleSpamInput(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	ids, err := r.store.SubscriberIDs(ctx)
	if err != nil {
		return err
	}
	sent := 0
	for _, id := range ids {
		if err := r.bot.limiter.Wait(ctx); err != nil {
			break
		}
		if _, err := r.bot.tele.Copy(tele.ChatID(id), c.Message()); err != nil {
			r.bot.log.Warn().Err(err).Int64("user", id).Msg("mass mail delivery failed")
			continue
		}
		sent++
	}
	r.sessions.clear(c.Sender().ID)
	return c.Send(fmt.Sprintf("Рассылка завершена, доставлено: %d из %d", sent, len(ids)), r.menu)
}

// parseGroupRef extracts the group short name, numeric id, or wall-post
// reference from whatever the user pasted: a full URL, a bare "vk.com/x", or
// just the short name.
func parseGroupRef(input string) string {
	s := strings.TrimSpace(input)
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		s = strings.Trim(u.Path, "/")
	} else if i := strings.Index(s, "vk.com/"); i >= 0 {
		s = strings.Trim(s[i+len("vk.com/"):], "/")
	}
	if j := strings.IndexByte(s, '/'); j >= 0 {
		s = s[:j]
	}
	return s
}
