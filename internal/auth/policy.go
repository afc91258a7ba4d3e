package auth

import (
	"strconv"
	"strings"

	"github.com/hunterwarburton/solportal/internal/core"
)

// Bot commands the policy knows about.
const (
	CommandBalance = "balance"
	CommandAirdrop = "airdrop"
	CommandTokens  = "tokens"
	CommandToken   = "token"
	CommandSend    = "send"
	CommandAuth    = "auth"
	CommandNetwork = "network"
)

// PolicyService manages user permissions for the bot.
type PolicyService struct {
	AdminUserIDs   map[int64]bool // map of admin user IDs
	AllowedUserIDs map[int64]bool // map of allowed user IDs (if empty, all users are allowed)
	// RestrictMainnet limits mainnet transfers to admins.
	RestrictMainnet bool
}

// NewPolicyService creates a new PolicyService from comma separated Telegram user IDs.
func NewPolicyService(adminUserIDsStr, allowedUserIDsStr string, restrictMainnet bool) *PolicyService {
	return &PolicyService{
		AdminUserIDs:    parseUserIDs(adminUserIDsStr),
		AllowedUserIDs:  parseUserIDs(allowedUserIDsStr),
		RestrictMainnet: restrictMainnet,
	}
}

// Unparsable entries are skipped.
func parseUserIDs(s string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			ids[id] = true
		}
	}
	return ids
}

// IsAdmin checks if a user is an admin.
func (p *PolicyService) IsAdmin(userID int64) bool {
	return p.AdminUserIDs[userID]
}

// IsAllowed checks if a user is allowed to use the bot.
func (p *PolicyService) IsAllowed(userID int64) bool {
	if len(p.AllowedUserIDs) == 0 {
		return true
	}
	if p.IsAdmin(userID) {
		return true
	}
	return p.AllowedUserIDs[userID]
}

// IsCommandAllowed checks if a user may run command against network.
func (p *PolicyService) IsCommandAllowed(userID int64, command string, network core.Network) bool {
	if !p.IsAllowed(userID) {
		return false
	}
	if p.IsAdmin(userID) {
		return true
	}

	switch command {
	case CommandSend:
		return network != core.Mainnet || !p.RestrictMainnet
	case CommandBalance, CommandAirdrop, CommandTokens, CommandToken, CommandAuth, CommandNetwork:
		return true
	default:
		// Unknown commands are not allowed
		return false
	}
}
