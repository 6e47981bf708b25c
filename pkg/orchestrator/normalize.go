// Copyright 2025 The REVA Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"strings"
	"unicode"
)

// Vietnamese letters beyond plain ASCII. Membership of any of these
// marks the Vietnamese script as present.
const vietnameseLetters = "àáảãạăằắẳẵặâầấẩẫậèéẻẽẹêềếểễệìíỉĩịòóỏõọôồốổỗộơờớởỡợùúủũụưừứửữựỳýỷỹỵđ"

// normalized is the validation stage's view of the query. The display
// text the user sent is never altered; this feeds prompts and rules.
type normalized struct {
	Text       string
	Truncated  bool
	Scripts    []string
	Simplified bool
}

// normalizeQuery trims, truncates to maxLen runes, strips emoji and
// decorative symbols, and simplifies the text to Vietnamese plus Latin
// when more than two scripts co-occur.
func normalizeQuery(query string, maxLen int) normalized {
	n := normalized{Text: strings.TrimSpace(query)}

	runes := []rune(n.Text)
	if maxLen > 0 && len(runes) > maxLen {
		n.Text = string(runes[:maxLen])
		n.Truncated = true
	}

	n.Text = strings.TrimSpace(stripDecoration(n.Text))
	n.Scripts = detectScripts(n.Text)
	if len(n.Scripts) > 2 {
		n.Text = strings.TrimSpace(simplifyToVietnameseLatin(n.Text))
		n.Simplified = true
	}
	return n
}

// stripDecoration drops emoji, pictographs, and decorative symbols,
// keeping letters, digits, punctuation, and spacing of every script.
func stripDecoration(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if isDecorative(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func isDecorative(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // emoji and pictograph planes
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols and dingbats
		return true
	case r >= 0x2190 && r <= 0x21FF: // arrows
		return true
	case r == 0xFE0F || r == 0x200D: // variation selector, ZWJ
		return true
	}
	return unicode.IsSymbol(r) && !unicode.Is(unicode.Sc, r)
}

// detectScripts reports which of the five recognized scripts occur.
func detectScripts(s string) []string {
	var latin, vietnamese, cjk, cyrillic, arabic bool
	for _, r := range s {
		switch {
		case strings.ContainsRune(vietnameseLetters, unicode.ToLower(r)):
			vietnamese = true
		case unicode.Is(unicode.Latin, r):
			latin = true
		case unicode.Is(unicode.Han, r), unicode.Is(unicode.Hiragana, r),
			unicode.Is(unicode.Katakana, r), unicode.Is(unicode.Hangul, r):
			cjk = true
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic = true
		case unicode.Is(unicode.Arabic, r):
			arabic = true
		}
	}

	var scripts []string
	if latin {
		scripts = append(scripts, "latin")
	}
	if vietnamese {
		scripts = append(scripts, "vietnamese")
	}
	if cjk {
		scripts = append(scripts, "cjk")
	}
	if cyrillic {
		scripts = append(scripts, "cyrillic")
	}
	if arabic {
		scripts = append(scripts, "arabic")
	}
	return scripts
}

// simplifyToVietnameseLatin keeps Latin and Vietnamese letters, digits,
// punctuation, and spaces; other scripts are dropped.
func simplifyToVietnameseLatin(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		keep := unicode.Is(unicode.Latin, r) ||
			strings.ContainsRune(vietnameseLetters, unicode.ToLower(r)) ||
			unicode.IsDigit(r) || unicode.IsPunct(r) || unicode.IsSpace(r)
		if keep {
			sb.WriteRune(r)
		}
	}
	// Collapse runs of whitespace the dropped runes leave behind.
	return strings.Join(strings.Fields(sb.String()), " ")
}
