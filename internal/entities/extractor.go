package entities

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	dimensionsPattern     = regexp.MustCompile(`(\d+)\s*(?:x|by|\*)\s*(\d+)`)
	feetDimensionsPattern = regexp.MustCompile(`(\d+)\s*(?:ft|foot|feet)\s*(?:x|by|\*)\s*(\d+)`)
	squareFeetPattern     = regexp.MustCompile(`(\d+)\s*(?:square\s*(?:feet|foot|ft)|sq\.?\s*ft|(?:ft|foot|feet)\s*square)`)

	durationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:for\s+)?(\d+)\s+(month|week|year)s?`),
		regexp.MustCompile(`(\d+)(?:-|\s+)(month|week|year)`),
	}

	moveInPatterns = []*regexp.Regexp{
		regexp.MustCompile(`move\s+in\s+(today|tomorrow|next\s+week|next\s+month)`),
		regexp.MustCompile(`move\s+in\s+on\s+(\d{1,2}(?:st|nd|rd|th)?\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*)`),
		regexp.MustCompile(`starting\s+(today|tomorrow|next\s+week|next\s+month)`),
	}
)

// maxSideFeet bounds a parsed side; larger numbers are not unit sizes.
const maxSideFeet = 1000

type sizePattern struct {
	re     *regexp.Regexp
	square bool
}

// Order matters: the first pattern that yields valid integers wins.
var sizePatterns = []sizePattern{
	{re: dimensionsPattern},
	{re: feetDimensionsPattern},
	{re: squareFeetPattern, square: true},
}

// Extractor pulls unit size, rental duration and move-in date out of free text.
// It holds no per-call state and is safe for concurrent use.
type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger.Named("entities")}
}

func (x *Extractor) ExtractUnitSize(text string) (UnitSize, bool) {
	text = strings.ToLower(text)
	for _, p := range sizePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if p.square {
			sqft, err := strconv.Atoi(m[1])
			if err != nil || sqft > maxSideFeet*maxSideFeet {
				x.logger.Warn("unit size parse failed", zap.String("match", m[0]), zap.Error(err))
				continue
			}
			side := int(math.Sqrt(float64(sqft)))
			x.logger.Debug("extracted unit size", zap.Int("width", side), zap.Int("length", side))
			return UnitSize{Width: side, Length: side, Score: 1.0}, true
		}
		width, werr := strconv.Atoi(m[1])
		length, lerr := strconv.Atoi(m[2])
		if werr != nil || lerr != nil || width > maxSideFeet || length > maxSideFeet {
			x.logger.Warn("unit size parse failed", zap.String("match", m[0]))
			continue
		}
		x.logger.Debug("extracted unit size", zap.Int("width", width), zap.Int("length", length))
		return UnitSize{Width: width, Length: length, Score: 1.0}, true
	}
	return UnitSize{}, false
}

func (x *Extractor) ExtractDuration(text string) (Duration, bool) {
	text = strings.ToLower(text)
	for _, re := range durationPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		amount, err := strconv.Atoi(m[1])
		if err != nil {
			x.logger.Warn("duration parse failed", zap.String("match", m[0]), zap.Error(err))
			continue
		}
		x.logger.Debug("extracted duration", zap.Int("amount", amount), zap.String("unit", m[2]))
		return Duration{Amount: amount, Unit: m[2], Score: 1.0}, true
	}
	return Duration{}, false
}

func (x *Extractor) ExtractMoveInDate(text string) (MoveInDate, bool) {
	text = strings.ToLower(text)
	for _, re := range moveInPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			x.logger.Debug("extracted move-in date", zap.String("phrase", m[1]))
			return MoveInDate{Phrase: m[1], Score: 1.0}, true
		}
	}
	return MoveInDate{}, false
}

// ExtractAll runs every extractor and keys the hits by entity type.
// It never fails; text without any recognised fact yields an empty map.
func (x *Extractor) ExtractAll(text string) map[string]Entity {
	out := make(map[string]Entity, len(typeOrder))
	if strings.TrimSpace(text) == "" {
		return out
	}
	if size, ok := x.ExtractUnitSize(text); ok {
		out[TypeUnitSize] = size
	}
	if d, ok := x.ExtractDuration(text); ok {
		out[TypeDuration] = d
	}
	if m, ok := x.ExtractMoveInDate(text); ok {
		out[TypeMoveInDate] = m
	}
	if len(out) > 0 {
		x.logger.Info("extracted entities", zap.Int("count", len(out)))
	}
	return out
}
