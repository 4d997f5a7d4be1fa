package pipeline

import "strings"

// Assistant conversation modes. Each mode layers a persona block over the
// base instructions; unknown modes fall back to general.
const (
	ModeGeneral = "general"
	ModeLoans   = "loans"
	ModeWallet  = "wallet"
	ModeKYC     = "kyc"
)

// basePersona is the system prompt shared by every mode.
const basePersona = `You are Dara, the DaraPay in-app assistant for customers in Cambodia.
Answer briefly and accurately in the customer's language (Khmer by default).
Never promise loan approval, never give investment advice, and never ask for
passwords, PINs or OTP codes. When you are unsure, direct the customer to
DaraPay support.`

// modePersonas are appended to the base persona per conversation mode.
var modePersonas = map[string]string{
	ModeGeneral: "",
	ModeLoans: `The customer is asking about loan products. Explain terms, rates and
repayment schedules using only figures from the provided knowledge. Interest
rates are monthly unless stated otherwise.`,
	ModeWallet: `The customer is asking about their wallet: balance, top-up, transfers
and payment issues. For transaction-specific questions rely on the provided
knowledge; do not invent transaction details.`,
	ModeKYC: `The customer is asking about identity verification. Walk them through
document requirements and verification status, and never speculate about why
a verification was rejected beyond the recorded reason.`,
}

// BuildSystemPrompt merges the base persona, the mode persona and the
// formatted retrieval context into one system prompt.
func BuildSystemPrompt(mode, formattedContext string) string {
	prompt := basePersona
	if persona, ok := modePersonas[mode]; ok && persona != "" {
		prompt += "\n\n" + persona
	}
	return BuildEnhancedPrompt(strings.TrimSpace(prompt), formattedContext)
}
