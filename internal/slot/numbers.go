package slot

import (
	"regexp"
	"strconv"
)

var digitsRE = regexp.MustCompile(`^(\d+)(st|nd|rd|th|%)?$`)

var units = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tens = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var ordinalUnits = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"eleventh": 11, "twelfth": 12, "thirteenth": 13, "fourteenth": 14, "fifteenth": 15,
	"sixteenth": 16, "seventeenth": 17, "eighteenth": 18, "nineteenth": 19,
}

var ordinalTens = map[string]int{
	"twentieth": 20, "thirtieth": 30, "fortieth": 40, "fiftieth": 50,
	"sixtieth": 60, "seventieth": 70, "eightieth": 80, "ninetieth": 90,
}

type numKind int

const (
	kindNone numKind = iota
	kindUnit
	kindTeen
	kindTens
	kindScale
)

// ParseNumber reads a number starting at words[0]. It understands digits
// ("50", "50%", "3rd"), spelled cardinals including compounds ("twenty five",
// "one hundred and five") and spelled ordinals ("second", "twenty first").
// Ordinals are 1-based. n is the number of words consumed; ok is false when
// words[0] does not start a number.
func ParseNumber(words []string) (value, n int, ok bool) {
	if len(words) == 0 {
		return 0, 0, false
	}
	if m := digitsRE.FindStringSubmatch(words[0]); m != nil {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, 0, false
		}
		return v, 1, true
	}

	var (
		total, current int
		last           = kindNone
		consumed       int
	)
	for i := 0; i < len(words); i++ {
		w := words[i]
		if w == "and" {
			if last != kindScale || i+1 >= len(words) || !isNumberWord(words[i+1]) {
				break
			}
			continue
		}
		if v, ok := units[w]; ok {
			k := kindUnit
			if v >= 10 {
				k = kindTeen
			}
			if !unitAllowed(last, k) {
				break
			}
			current += v
			last, consumed = k, i+1
			continue
		}
		if v, ok := ordinalUnits[w]; ok {
			k := kindUnit
			if v >= 10 {
				k = kindTeen
			}
			if !unitAllowed(last, k) {
				break
			}
			current += v
			consumed = i + 1
			return total + current, consumed, true
		}
		if v, ok := tens[w]; ok {
			if last != kindNone && last != kindScale {
				break
			}
			current += v
			last, consumed = kindTens, i+1
			continue
		}
		if v, ok := ordinalTens[w]; ok {
			if last != kindNone && last != kindScale {
				break
			}
			current += v
			consumed = i + 1
			return total + current, consumed, true
		}
		switch w {
		case "hundred":
			if last == kindScale || last == kindTens {
				return finish(total, current, consumed)
			}
			if last == kindNone {
				current = 1
			}
			current *= 100
			last, consumed = kindScale, i+1
			continue
		case "hundredth":
			if last == kindNone {
				current = 1
			}
			return total + current*100, i + 1, true
		case "thousand":
			if last == kindNone {
				current = 1
			}
			total += current * 1000
			current = 0
			last, consumed = kindScale, i+1
			continue
		}
		break
	}
	return finish(total, current, consumed)
}

func finish(total, current, consumed int) (int, int, bool) {
	if consumed == 0 {
		return 0, 0, false
	}
	return total + current, consumed, true
}

// unitAllowed reports whether a unit or teen may follow a word of kind last.
func unitAllowed(last, k numKind) bool {
	switch last {
	case kindNone, kindScale:
		return true
	case kindTens:
		return k == kindUnit
	}
	return false
}

func isNumberWord(w string) bool {
	if _, ok := units[w]; ok {
		return true
	}
	if _, ok := tens[w]; ok {
		return true
	}
	if _, ok := ordinalUnits[w]; ok {
		return true
	}
	_, ok := ordinalTens[w]
	return ok
}
