package classify

// titlePatterns mark automated title-generation prompts emitted by chat
// frontends. Matched as substrings of the lowercased last message.
var titlePatterns = []string{
	"generate a title", "create a title", "title for this conversation",
	"chat_history", "</chat_history>", "conversation title",
	"summarize this conversation into a title",
}

// escalationPhrases are the exact (trimmed, lowercased) messages that
// force the escalation model. Substring matches deliberately do not
// count: "should I escalate this ticket?" is a normal question.
var escalationPhrases = []string{"escalate", "escalate this", "escalate me"}

// imperativeTriggers are research commands. They only count when the
// message starts with them.
var imperativeTriggers = []string{
	"research this", "research that", "research it", "research about",
	"research the", "research how", "research what", "research when",
	"research where", "research why", "research whether",
	"look this up", "look that up", "look it up", "look up",
	"search for this", "search for that", "search for the",
	"find information about", "find info about", "find out about",
	"investigate this", "investigate that", "investigate the",
	"dig deeper into", "get more info on", "get information on",
}

// politeTriggers are prefix-matched like imperativeTriggers.
var politeTriggers = []string{
	"can you research", "could you research", "would you research",
	"please research", "can you look up", "could you look up",
	"can you find", "could you find", "can you search",
	"could you search", "please look up", "please find",
}

// freshnessTriggers ask for current information. They match anywhere,
// but only inside short messages (< 100 chars) to avoid firing on long
// prompts that merely mention recency.
var freshnessTriggers = []string{
	"what's the latest on", "what is the latest on",
	"what's the current", "what is the current",
	"what are the recent", "what are recent",
	"any recent", "any latest", "any new",
	"current information about", "latest news on", "recent developments",
}

// contextTriggers are research requests whose topic lives in earlier
// conversation turns rather than the message itself.
var contextTriggers = []string{
	"research this", "research that", "research it",
	"look this up", "look that up", "look it up",
}

// defaultClassifierPrompt instructs the classifier model when its
// catalog entry carries no system prompt of its own.
const defaultClassifierPrompt = "Classify the user's request based on two dimensions: " +
	"'SIMPLE' or 'HARD' complexity, and 'RESEARCH' or 'NO_RESEARCH' for information retrieval. " +
	"Combine these with an underscore, e.g., 'SIMPLE_RESEARCH'. " +
	"Provide ONLY this combined classification. Default to 'SIMPLE_NO_RESEARCH'."
