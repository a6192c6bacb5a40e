package pipeline

// Outcome is the terminal decision for one message. Codes are logged as the
// "code" attribute.
type Outcome string

const (
	Ignored       Outcome = "IGNORED"
	DropSelf      Outcome = "DROP_SELFMSG"
	DropBot       Outcome = "DROP_BOT"
	DropNegCtx    Outcome = "DROP_NEGCTX"
	DropDup       Outcome = "DROP_DUP"
	DropAd        Outcome = "DROP_AD"
	DropNoRegion  Outcome = "DROP_NOREG"
	DropRegionKW  Outcome = "DROP_NOREGK"
	DropNoKeyword Outcome = "DROP_NOKW"
	DropOffer     Outcome = "DROP_OFFER"
	DropReview    Outcome = "DROP_REVIEW"
	DropNoTrigger Outcome = "DROP_NOTRIGGER"
	DropAI        Outcome = "DROP_AI"
	Timeout       Outcome = "TIMEOUT"
	Discard       Outcome = "DISCARD"
	Review        Outcome = "REVIEW"
	DropNoSubs    Outcome = "DROP_NOSUBS"
	Sent          Outcome = "SENT"
)
