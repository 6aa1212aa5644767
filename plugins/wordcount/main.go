package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/extism/go-pdk"
)

type input struct {
	Config map[string]string `json:"config"`
	Args   struct {
		Text  string `json:"text"`
		Limit any    `json:"limit"`
	} `json:"args"`
}

//export handle
func handle() int32 {
	var req input
	if err := json.Unmarshal(pdk.Input(), &req); err != nil {
		return fail("invalid input: " + err.Error())
	}
	if strings.TrimSpace(req.Args.Text) == "" {
		return fail("text is required")
	}

	wpm := 230.0
	if v, err := strconv.ParseFloat(req.Config["words_per_minute"], 64); err == nil && v > 0 {
		wpm = v
	}

	words := len(strings.Fields(req.Args.Text))
	sentences := countSentences(req.Args.Text)
	minutes := int(math.Ceil(float64(words) / wpm))

	var b strings.Builder
	fmt.Fprintf(&b, "words: %d\nsentences: %d\nreading time: %d min", words, sentences, minutes)
	if limit, err := strconv.Atoi(strings.TrimSpace(fmt.Sprint(req.Args.Limit))); err == nil && limit > 0 && words > limit {
		fmt.Fprintf(&b, "\nover limit by %d words", words-limit)
	}
	pdk.OutputString(b.String())
	return 0
}

func countSentences(text string) int {
	n := 0
	inSentence := false
	for _, r := range text {
		switch {
		case r == '.' || r == '!' || r == '?':
			if inSentence {
				n++
			}
			inSentence = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			inSentence = true
		}
	}
	if inSentence {
		n++
	}
	return n
}

func fail(msg string) int32 {
	pdk.SetError(fmt.Errorf("%s", msg))
	return 1
}

func main() {}
