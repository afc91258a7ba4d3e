package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/hunterwarburton/solportal/internal/airdrop"
	"github.com/hunterwarburton/solportal/internal/auth"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/imageutils"
	"github.com/hunterwarburton/solportal/internal/logger"
	"github.com/hunterwarburton/solportal/internal/session"
	"github.com/hunterwarburton/solportal/internal/tokens"
	"github.com/hunterwarburton/solportal/internal/transfer"
	"github.com/hunterwarburton/solportal/internal/wallet"
)

// messenger is the part of the Telegram API the bot talks to.
type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendMediaGroup(ctx context.Context, params *bot.SendMediaGroupParams) ([]*models.Message, error)
}

// Services are the flows the bot exposes as commands.
type Services struct {
	Sessions  *session.Manager
	Wallet    wallet.Wallet // nil when no keypair is configured
	Tokens    *tokens.Service
	Images    *imageutils.Resolver
	Transfers *transfer.Orchestrator
	Airdrops  *airdrop.Requester
	Auth      *auth.Authenticator
	Policy    *auth.PolicyService
}

// Bot represents a Telegram bot.
type Bot struct {
	api     messenger
	runner  *bot.Bot
	svc     Services
	helpMsg string
}

// NewBot creates a new bot instance.
func NewBot(token string, svc Services) (*Bot, error) {
	b := newBot(nil, svc)

	// Initialize the bot with our handler
	botAPI, err := bot.New(token, bot.WithDefaultHandler(b.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	b.api = botAPI
	b.runner = botAPI
	return b, nil
}

func newBot(api messenger, svc Services) *Bot {
	return &Bot{api: api, svc: svc, helpMsg: helpText()}
}

// Start starts the bot. It blocks until ctx is canceled.
func (b *Bot) Start(ctx context.Context) {
	b.runner.Start(ctx)
}

// handleUpdate handles a Telegram update.
func (b *Bot) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message
	if msg.Text != "" && msg.Text[0] == '/' {
		b.handleCommand(ctx, msg)
		return
	}
	logger.TelegramDebug("Chat[%d] User[%d]: Ignored non-command message.", msg.Chat.ID, msg.From.ID)
}

// handleCommand processes a command message.
func (b *Bot) handleCommand(ctx context.Context, message *models.Message) {
	fields := strings.Fields(message.Text)
	command := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}
	args := fields[1:]
	chatID := message.Chat.ID
	userID := message.From.ID
	sess := b.svc.Sessions.Get(strconv.FormatInt(chatID, 10))
	logger.TelegramInfo("Chat[%d] User[%d]: Received command: /%s", chatID, userID, command)

	switch command {
	case "start", "help":
	case auth.CommandBalance, auth.CommandAirdrop, auth.CommandTokens, auth.CommandToken,
		auth.CommandSend, auth.CommandAuth, auth.CommandNetwork, "connect", "disconnect":
		policyCmd := command
		if command == "connect" || command == "disconnect" {
			policyCmd = auth.CommandAuth
		}
		if !b.svc.Policy.IsCommandAllowed(userID, policyCmd, sess.Network()) {
			logger.TelegramWarn("Chat[%d] User[%d]: /%s denied on %s", chatID, userID, command, sess.Network())
			b.reply(ctx, chatID, "⛔ You are not allowed to use this command here.")
			return
		}
	default:
		logger.TelegramInfo("Chat[%d] User[%d]: Unknown command received: /%s", chatID, userID, command)
		b.reply(ctx, chatID, "Unknown command. Try /help to see available commands.")
		return
	}

	switch command {
	case "start":
		b.reply(ctx, chatID, "👋 Hello! I'm your Solana portal.\n\n"+b.helpMsg)
	case "help":
		b.reply(ctx, chatID, b.helpMsg)
	case "connect":
		b.handleConnect(ctx, chatID, sess, true)
	case "disconnect":
		b.handleConnect(ctx, chatID, sess, false)
	case auth.CommandNetwork:
		b.handleNetwork(ctx, chatID, sess, args)
	case auth.CommandBalance:
		b.handleBalance(ctx, chatID, sess, args)
	case auth.CommandAirdrop:
		b.handleAirdrop(ctx, chatID, sess, args)
	case auth.CommandTokens:
		b.handleTokens(ctx, chatID, sess, args)
	case auth.CommandToken:
		b.handleToken(ctx, chatID, sess, args)
	case auth.CommandSend:
		b.handleSend(ctx, chatID, sess, args)
	case auth.CommandAuth:
		b.handleAuth(ctx, chatID, sess, args)
	}
}

func helpText() string {
	text := "Available commands:"
	text += "\n/connect - Connect the wallet to this chat"
	text += "\n/disconnect - Disconnect the wallet"
	text += "\n/network [devnet|mainnet] - Show or switch network"
	text += "\n/balance [address] - Show SOL balance"
	text += "\n/airdrop <sol> - Request devnet SOL"
	text += "\n/tokens [owner] - List token holdings"
	text += "\n/token <id> - Show one token"
	text += "\n/send <id> <recipient> <amount> - Transfer tokens"
	text += "\n/auth <challenge> - Sign a challenge with the wallet"
	return text
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		logger.TelegramError("Chat[%d]: Failed to send message: %v", chatID, err)
	}
}

// sessionWallet is the configured wallet as seen by this chat.
func (b *Bot) sessionWallet(sess *session.Session) wallet.Wallet {
	if b.svc.Wallet == nil {
		return nil
	}
	return wallet.Gate(b.svc.Wallet, sess.Connected())
}

func (b *Bot) walletAddress() (string, bool) {
	if b.svc.Wallet == nil {
		return "", false
	}
	pk, ok := b.svc.Wallet.PublicKey()
	if !ok {
		return "", false
	}
	return pk.String(), true
}

func (b *Bot) handleConnect(ctx context.Context, chatID int64, sess *session.Session, connect bool) {
	if !connect {
		sess.SetConnected(false)
		b.svc.Auth.Revoke(sess.Key())
		b.reply(ctx, chatID, "Wallet disconnected.")
		return
	}
	addr, ok := b.walletAddress()
	if !ok {
		b.reply(ctx, chatID, "No wallet is configured for this bot.")
		return
	}
	sess.SetConnected(true)
	b.reply(ctx, chatID, fmt.Sprintf("✅ Wallet connected: %s", addr))
}

func (b *Bot) handleNetwork(ctx context.Context, chatID int64, sess *session.Session, args []string) {
	if len(args) == 0 {
		b.reply(ctx, chatID, fmt.Sprintf("Current network: %s", sess.Network()))
		return
	}
	n, err := core.ParseNetwork(args[0])
	if err != nil {
		b.reply(ctx, chatID, "Unknown network. Use devnet or mainnet.")
		return
	}
	sess.SetNetwork(n)
	b.reply(ctx, chatID, fmt.Sprintf("Switched to %s.", n))
}

// targetAddress picks the explicit address argument or falls back to the wallet.
func (b *Bot) targetAddress(sess *session.Session, args []string) (string, bool) {
	if len(args) > 0 {
		return args[0], true
	}
	if !sess.Connected() {
		return "", false
	}
	return b.walletAddress()
}

func (b *Bot) handleBalance(ctx context.Context, chatID int64, sess *session.Session, args []string) {
	addr, ok := b.targetAddress(sess, args)
	if !ok {
		b.reply(ctx, chatID, "Connect a wallet or pass an address: /balance <address>")
		return
	}
	bal, err := b.svc.Airdrops.Balance(ctx, sess.Network(), addr)
	if err != nil {
		logger.TelegramError("Chat[%d]: Balance lookup for %s failed: %v", chatID, addr, err)
		b.reply(ctx, chatID, "Couldn't fetch the balance.")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("%s SOL on %s", bal.String(), sess.Network()))
}

func (b *Bot) handleAirdrop(ctx context.Context, chatID int64, sess *session.Session, args []string) {
	if sess.MarkVisited(session.PageFaucet) {
		b.reply(ctx, chatID, "💧 Welcome to the faucet! Airdrops are credited on devnet and checked until finalized.")
	}
	if len(args) != 1 {
		b.reply(ctx, chatID, "Usage: /airdrop <sol>")
		return
	}
	addr, _ := b.walletAddress()

	out, err := b.svc.Airdrops.Request(ctx, sess.Connected(), addr, args[0])
	switch {
	case errors.Is(err, airdrop.ErrWalletNotConnected):
		b.reply(ctx, chatID, "Connect your wallet first with /connect.")
		return
	case errors.Is(err, airdrop.ErrInvalidAmount):
		b.reply(ctx, chatID, "Enter a positive SOL amount.")
		return
	case errors.Is(err, airdrop.ErrMissingAddress):
		b.reply(ctx, chatID, "The wallet has no address.")
		return
	case err != nil:
		logger.TelegramError("Chat[%d]: Airdrop failed: %v", chatID, err)
		b.reply(ctx, chatID, "Airdrop failed. The faucet may be rate limited, try again later.")
		return
	}

	if out.Status == airdrop.StatusFinalized {
		b.reply(ctx, chatID, fmt.Sprintf("✅ Airdrop of %s SOL finalized: %s", args[0], out.Signature))
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("Airdrop submitted but not finalized after %d checks: %s", out.Attempts, out.Signature))
}

func (b *Bot) handleTokens(ctx context.Context, chatID int64, sess *session.Session, args []string) {
	if sess.MarkVisited(session.PageTokens) {
		b.reply(ctx, chatID, "🪙 Here you can list your SPL tokens and send them with /send.")
	}
	owner, ok := b.targetAddress(sess, args)
	if !ok {
		b.reply(ctx, chatID, "Connect a wallet or pass an owner: /tokens <owner>")
		return
	}

	snap, err := sess.Refresh(ctx, func(ctx context.Context, n core.Network) (core.Snapshot, error) {
		return b.svc.Tokens.Discover(ctx, owner, n)
	})
	if err != nil {
		logger.TelegramError("Chat[%d]: Token discovery for %s failed: %v", chatID, owner, err)
		prev, ok := sess.Snapshot()
		if !ok {
			b.reply(ctx, chatID, "Couldn't load tokens.")
			return
		}
		b.reply(ctx, chatID, "Couldn't refresh tokens, showing the last list.\n\n"+formatSnapshot(prev))
		return
	}

	b.reply(ctx, chatID, formatSnapshot(snap))
	if len(snap.Records) > 0 {
		if _, err := b.sendTokenGallery(ctx, chatID, snap.Records); err != nil {
			logger.TelegramWarn("Chat[%d]: Token gallery not sent: %v", chatID, err)
		}
	}
}

func formatSnapshot(snap core.Snapshot) string {
	if len(snap.Records) == 0 {
		return fmt.Sprintf("No tokens found for %s on %s.", snap.Owner, snap.Network)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tokens of %s on %s:", snap.Owner, snap.Network)
	for _, r := range snap.Records {
		fmt.Fprintf(&sb, "\n%d. %s (%s) %s", r.ID, r.Name, r.Symbol, strconv.FormatFloat(r.Balance, 'f', -1, 64))
	}
	return sb.String()
}

func (b *Bot) snapshotRecord(ctx context.Context, chatID int64, sess *session.Session, arg string) (core.TokenRecord, bool) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		b.reply(ctx, chatID, "Token id must be a number from /tokens.")
		return core.TokenRecord{}, false
	}
	snap, ok := sess.Snapshot()
	if !ok {
		b.reply(ctx, chatID, "Run /tokens first.")
		return core.TokenRecord{}, false
	}
	rec, ok := snap.Find(id)
	if !ok {
		b.reply(ctx, chatID, fmt.Sprintf("No token with id %d.", id))
		return core.TokenRecord{}, false
	}
	return rec, true
}

func (b *Bot) handleToken(ctx context.Context, chatID int64, sess *session.Session, args []string) {
	if len(args) != 1 {
		b.reply(ctx, chatID, "Usage: /token <id>")
		return
	}
	rec, ok := b.snapshotRecord(ctx, chatID, sess, args[0])
	if !ok {
		return
	}

	img := b.svc.Images.Resolve(ctx, rec)
	if !img.Resolved() {
		logger.TelegramDebug("Chat[%d]: Image for %s is %s: %s", chatID, rec.MintAddress, img.Outcome, img.Detail)
	}
	caption := fmt.Sprintf("%s (%s)\nBalance: %s\nMint: %s\nAccount: %s\nProgram: %s",
		rec.Name, rec.Symbol, strconv.FormatFloat(rec.Balance, 'f', -1, 64),
		rec.MintAddress, rec.TokenAddress, rec.TokenProgram)

	_, err := b.api.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:  chatID,
		Photo:   &models.InputFileString{Data: img.URL},
		Caption: caption,
	})
	if err != nil {
		logger.TelegramError("Chat[%d]: Failed to send token photo: %v", chatID, err)
		b.reply(ctx, chatID, caption)
	}
}

func (b *Bot) handleSend(ctx context.Context, chatID int64, sess *session.Session, args []string) {
	if len(args) != 3 {
		b.reply(ctx, chatID, "Usage: /send <id> <recipient> <amount>")
		return
	}
	addr, ok := b.walletAddress()
	if !ok || !sess.Connected() {
		b.reply(ctx, chatID, "Connect your wallet first with /connect.")
		return
	}
	if !b.svc.Auth.IsAuthenticated(sess.Key(), addr) {
		b.reply(ctx, chatID, "Authenticate first with /auth <challenge>.")
		return
	}
	if snap, ok := sess.Snapshot(); ok && snap.Owner != addr {
		logger.TelegramWarn("Chat[%d]: /send refused, token list belongs to %s not %s", chatID, snap.Owner, addr)
		b.reply(ctx, chatID, "The last token list is for another address. Run /tokens to list your own tokens.")
		return
	}
	rec, ok := b.snapshotRecord(ctx, chatID, sess, args[0])
	if !ok {
		return
	}

	req := transfer.RequestForRecord(b.sessionWallet(sess), rec, args[1], args[2], sess.Network())
	res, h, err := b.svc.Transfers.Transfer(ctx, req)
	if err != nil {
		logger.TelegramError("Chat[%d]: Transfer of %s failed: %v", chatID, rec.MintAddress, err)
		text := transferErrorText(err)
		if h != nil && h.DestinationState == transfer.DestinationCreated {
			text += fmt.Sprintf("\nThe recipient's token account was created (%s).", h.CreateSignature)
		}
		b.reply(ctx, chatID, text)
		return
	}

	text := fmt.Sprintf("✅ Sent %s %s to %s\nSignature: %s", args[2], rec.Symbol, args[1], res.Signature)
	if res.DestinationState == transfer.DestinationCreated {
		text += "\nCreated the recipient's token account first."
	}
	b.reply(ctx, chatID, text)
}

func transferErrorText(err error) string {
	switch {
	case errors.Is(err, transfer.ErrWalletNotConnected):
		return "Connect your wallet first with /connect."
	case errors.Is(err, transfer.ErrInvalidRecipient):
		return "Invalid recipient address."
	case errors.Is(err, transfer.ErrRecipientOffCurve):
		return "Recipient must be a wallet address, not a program derived address."
	case errors.Is(err, transfer.ErrInvalidAmount):
		return "Invalid amount for this token."
	case errors.Is(err, transfer.ErrAccountResolution):
		return "Couldn't create the recipient's token account."
	default:
		return "Transfer failed."
	}
}

func (b *Bot) handleAuth(ctx context.Context, chatID int64, sess *session.Session, args []string) {
	challenge := strings.Join(args, " ")
	ticket, err := b.svc.Auth.Authenticate(ctx, sess.Key(), b.sessionWallet(sess), challenge)
	switch {
	case errors.Is(err, auth.ErrEmptyChallenge):
		b.reply(ctx, chatID, "Usage: /auth <challenge>")
	case errors.Is(err, auth.ErrSigningUnsupported):
		b.reply(ctx, chatID, "This wallet can't sign messages.")
	case errors.Is(err, auth.ErrNoPublicKey):
		b.reply(ctx, chatID, "The wallet has no public key.")
	case errors.Is(err, auth.ErrVerificationFailed):
		b.reply(ctx, chatID, "Signature verification failed.")
	case err != nil:
		logger.TelegramError("Chat[%d]: Authentication failed: %v", chatID, err)
		b.reply(ctx, chatID, "Signing failed. Is the wallet connected?")
	default:
		b.reply(ctx, chatID, fmt.Sprintf("🔐 Authenticated as %s until %s.", ticket.Address, ticket.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")))
	}
}
