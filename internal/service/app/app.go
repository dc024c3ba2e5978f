package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"e2e_messenger/internal/cache"
	"e2e_messenger/internal/envelope"
	"e2e_messenger/internal/model"
	"e2e_messenger/internal/service/engine"
	"e2e_messenger/internal/service/exchange"
	"e2e_messenger/internal/service/identity"
	"e2e_messenger/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const undecryptablePlaceholder = "[message undecryptable]"

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		identitySvc *identity.Service
		exchange    *exchange.Client
		codec       *envelope.Codec
		cache       *cache.DecryptionCache

		encrypt envelope.EncryptFunc
		decrypt envelope.DecryptFunc

		userName string
		toName   string

		conn *websocket.Conn
	}
)

func NewApp(identitySvc *identity.Service, exch *exchange.Client, eng *engine.SessionEngine, codec *envelope.Codec, decCache *cache.DecryptionCache) *App {
	return &App{
		app:         tview.NewApplication(),
		identitySvc: identitySvc,
		exchange:    exch,
		codec:       codec,
		cache:       decCache,
		encrypt:     eng.Encrypt,
		decrypt:     eng.Decrypt,
	}
}

func (c *App) Run(ctx context.Context, name string) {
	c.userName = name

	if err := c.ensureIdentity(ctx); err != nil {
		log.Fatal("identity setup failed", zap.Error(err))
	}
	if err := c.identitySvc.EnsurePreKeys(ctx, c.exchange); err != nil {
		log.Error("prekey replenish failed", zap.Error(err))
	}

	var toName string
	fmt.Print("Enter recipient's name: ")
	if _, err := fmt.Scan(&toName); err != nil {
		fmt.Println("error:", err)
		return
	}
	c.toName = toName

	conn, err := c.initWebhook(c.userName)
	if err != nil {
		log.Fatal("init webhook to server failed", zap.Error(err))
	}
	c.conn = conn

	go c.listenOnWebhook()
	c.renderUI()
}

func (c *App) Stop() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// ensureIdentity provisions the device on first run and publishes the public
// half. An already provisioned device is left alone.
func (c *App) ensureIdentity(ctx context.Context) error {
	has, err := c.identitySvc.HasIdentity()
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	rec, err := c.identitySvc.GenerateIdentity(c.userName)
	if err != nil {
		return err
	}
	count, err := c.exchange.Publish(ctx, rec)
	if err != nil {
		return err
	}
	log.Info("published fresh identity",
		zap.String("user", c.userName),
		zap.Int("oneTimePreKeys", count))
	return nil
}

// blocking function
func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", c.toName))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := c.input.GetText()
			if text == "" {
				return
			}

			go func(msg string) {
				err := c.SendMessage(msg)
				if err != nil {
					c.app.Suspend(func() {
						log.Error("Send message failed", zap.Error(err))
					})
				}
			}(text)
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

func (c *App) listenOnWebhook() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.Error(err))
			c.conn.Close()
			break
		}

		var message model.Message
		if err := json.Unmarshal(data, &message); err != nil {
			log.Error("Unmarshal message failed", zap.Error(err))
			continue
		}

		// One undecryptable message must not stall the stream: render a
		// placeholder and keep reading.
		if err := c.ReceiveMessage(&message); err != nil {
			c.app.Suspend(func() {
				log.Error("receive message failed", zap.Error(err))
			})
		}
	}
}

func (c *App) SendMessage(msg string) error {
	ctx := context.Background()

	env, err := c.codec.Wrap(ctx, c.userName, c.toName, []byte(msg), c.encrypt)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msgID, err := newMessageID()
	if err != nil {
		return err
	}

	if err := c.conn.WriteJSON(&model.Message{
		ID:       msgID,
		From:     c.userName,
		To:       c.toName,
		Envelope: raw,
	}); err != nil {
		return err
	}

	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, "[yellow]You:[-] %s\n", msg)
		c.input.SetText("")
		c.chatbox.ScrollToEnd()
	})
	return nil
}

func (c *App) ReceiveMessage(message *model.Message) error {
	ctx := context.Background()

	plain, err := c.recoverPlaintext(ctx, message)
	if err != nil {
		c.showIncoming(message.From, undecryptablePlaceholder)
		return err
	}

	c.showIncoming(message.From, plain)
	return nil
}

// recoverPlaintext consults the decryption cache before touching the ratchet:
// a ratchet payload decrypts at most once, so a redelivered message id must
// short-circuit to the cached result.
func (c *App) recoverPlaintext(ctx context.Context, message *model.Message) (string, error) {
	if message.ID != "" {
		if plain, ok, err := c.cache.Get(c.userName, message.ID); err != nil {
			return "", err
		} else if ok {
			return plain, nil
		}
	}

	plain, err := c.codec.Unwrap(ctx, message.Envelope, message.From, c.userName, c.decrypt)
	if err != nil {
		return "", err
	}

	if message.ID != "" {
		if err := c.cache.Put(c.userName, message.ID, plain); err != nil {
			log.Error("cache plaintext failed", zap.Error(err))
		}
	}
	return plain, nil
}

func (c *App) showIncoming(from, text string) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, "[green]%s:[-] %s\n", from, text)
		c.chatbox.ScrollToEnd()
	})
}

func newMessageID() (string, error) {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
