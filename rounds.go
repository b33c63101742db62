package main

import (
	"errors"
	"math/rand"
	"sync"
)

// ErrNoSuchRound is returned when a round index falls outside the
// content pool for the requested game mode.
var ErrNoSuchRound = errors.New("no such round")

// wordEntry is one word-mode round: an anagram family of four words plus
// a set of decoys. After shuffling, words[0] is shown to the host and
// words[1] is hidden among the decoys as the correct answer.
type wordEntry struct {
	words  []string
	decoys []string
}

// questionEntry is one trivia-mode round: a question, its answer, and
// the distractors shown alongside it.
type questionEntry struct {
	question string
	answer   string
	options  []string
}

// WordRound is broadcast to a room as "newWordData".
type WordRound struct {
	Type   string   `json:"type"`
	Round  int      `json:"round"`
	Word   string   `json:"word"`
	Answer string   `json:"answer"`
	List   []string `json:"list"`
}

// QuestionRound is broadcast to a room as "newQuestionData".
type QuestionRound struct {
	Type     string   `json:"type"`
	Round    int      `json:"round"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	List     []string `json:"list"`
}

// roundGenerator derives per-round payloads from the fixed content
// pools. Output depends only on the round index, the mode, and the
// generator's randomness source.
type roundGenerator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	words     []wordEntry
	questions []questionEntry
}

func newRoundGenerator(rng *rand.Rand) *roundGenerator {
	return &roundGenerator{
		rng:       rng,
		words:     wordPool,
		questions: questionPool,
	}
}

// poolLen reports the number of rounds available for a level.
func (g *roundGenerator) poolLen(level int) int {
	if level == WordMode {
		return len(g.words)
	}
	return len(g.questions)
}

// wordRound builds the payload for word-mode round i: a prompt word, an
// anagram of it as the answer, and six choices with the answer hidden at
// a random position among five shuffled decoys.
func (g *roundGenerator) wordRound(i int) (WordRound, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if i < 0 || i >= len(g.words) {
		return WordRound{}, ErrNoSuchRound
	}

	words := g.shuffledLocked(g.words[i].words)

	decoys := g.shuffledLocked(g.words[i].decoys)[:5]

	list := insertAt(decoys, words[1], g.rng.Intn(5))

	return WordRound{
		Type:   "newWordData",
		Round:  i,
		Word:   words[0],
		Answer: words[1],
		List:   list,
	}, nil
}

// questionRound builds the payload for trivia-mode round i: the question
// and three choices with the answer hidden among the shuffled options.
func (g *roundGenerator) questionRound(i int) (QuestionRound, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if i < 0 || i >= len(g.questions) {
		return QuestionRound{}, ErrNoSuchRound
	}

	options := g.shuffledLocked(g.questions[i].options)

	list := insertAt(options, g.questions[i].answer, g.rng.Intn(len(options)+1))

	return QuestionRound{
		Type:     "newQuestionData",
		Round:    i,
		Question: g.questions[i].question,
		Answer:   g.questions[i].answer,
		List:     list,
	}, nil
}

// shuffledLocked returns a Fisher-Yates shuffled copy of src, leaving
// the pool itself untouched.
func (g *roundGenerator) shuffledLocked(src []string) []string {
	out := make([]string, len(src))
	copy(out, src)

	for i := len(out) - 1; i > 0; i-- {
		j := g.rng.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}

	return out
}

// insertAt returns a new slice with v inserted at index pos.
func insertAt(src []string, v string, pos int) []string {
	out := make([]string, 0, len(src)+1)
	out = append(out, src[:pos]...)
	out = append(out, v)
	out = append(out, src[pos:]...)
	return out
}

// Each element provides the content for a single word-mode round.
var wordPool = []wordEntry{
	{
		words:  []string{"sale", "seal", "ales", "leas"},
		decoys: []string{"lead", "lamp", "seed", "eels", "lean", "cels", "lyse", "sloe", "tels", "self"},
	},
	{
		words:  []string{"item", "time", "mite", "emit"},
		decoys: []string{"neat", "team", "omit", "tame", "mate", "idem", "mile", "lime", "tire", "exit"},
	},
	{
		words:  []string{"spat", "past", "pats", "taps"},
		decoys: []string{"pots", "laps", "step", "lets", "pint", "atop", "tapa", "rapt", "swap", "yaps"},
	},
	{
		words:  []string{"nest", "sent", "nets", "tens"},
		decoys: []string{"tend", "went", "lent", "teen", "neat", "ante", "tone", "newt", "vent", "elan"},
	},
	{
		words:  []string{"pale", "leap", "plea", "peal"},
		decoys: []string{"sale", "pail", "play", "lips", "slip", "pile", "pleb", "pled", "help", "lope"},
	},
	{
		words:  []string{"races", "cares", "scare", "acres"},
		decoys: []string{"crass", "scary", "seeds", "score", "screw", "cager", "clear", "recap", "trace", "cadre"},
	},
	{
		words:  []string{"bowel", "elbow", "below", "beowl"},
		decoys: []string{"bowed", "bower", "robed", "probe", "roble", "bowls", "blows", "brawl", "bylaw", "ebola"},
	},
	{
		words:  []string{"dates", "stead", "sated", "adset"},
		decoys: []string{"seats", "diety", "seeds", "today", "sited", "dotes", "tides", "duets", "deist", "diets"},
	},
	{
		words:  []string{"spear", "parse", "reaps", "pares"},
		decoys: []string{"ramps", "tarps", "strep", "spore", "repos", "peris", "strap", "perms", "ropes", "super"},
	},
	{
		words:  []string{"stone", "tones", "steno", "onset"},
		decoys: []string{"snout", "tongs", "stent", "tense", "terns", "santo", "stony", "toons", "snort", "stint"},
	},
}

// Each element provides the content for a single trivia-mode round.
var questionPool = []questionEntry{
	{
		question: "Great Britain is made up of which three countries?",
		answer:   "England, Wales, and Scotland",
		options:  []string{"Spain, England, and Portugal", "Greece, Turkey, and Egypt"},
	},
	{
		question: "What is the form of currency used in England?",
		answer:   "British pound",
		options:  []string{"Euro", "British dollar"},
	},
	{
		question: "In which of the following cities was Shakespeare born?",
		answer:   "Stratford",
		options:  []string{"Bath", "London"},
	},
	{
		question: `Which city offers the "Magical Mystery Tour" of famous Beatles landmarks?`,
		answer:   "Liverpool",
		options:  []string{"Cambridge", "London"},
	},
	{
		question: "Who is Margaret Thatcher?",
		answer:   "Britain's first woman Prime Minister",
		options:  []string{"Britain's longest-ruling monarch", "The daughter of King Henry VIII"},
	},
	{
		question: `What clothing do the British call "jumpers?"`,
		answer:   "Sweaters",
		options:  []string{"Jackets", "Jeans"},
	},
}
