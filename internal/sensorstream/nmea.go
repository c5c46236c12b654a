package sensorstream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// Sensor boards on the serial link emit checksummed NMEA-style sentences with
// talker "SN". Field 0 is the board timestamp in Unix milliseconds.
//
//	$SNXSTP,<ms>*hh                 step pulse
//	$SNXCNT,<ms>,<total>*hh         step counter
//	$SNXACC,<ms>,<x>,<y>,<z>*hh     accelerometer, m/s²
//	$SNXRVC,<ms>,<x>,<y>,<z>[,..]*hh rotation vector
const (
	talkerSensor = "SN"

	typeStepPulse   = "XSTP"
	typeStepCounter = "XCNT"
	typeAccel       = "XACC"
	typeRotation    = "XRVC"
)

var sentenceKinds = map[string]Kind{
	typeStepPulse:   KindStepPulse,
	typeStepCounter: KindStepCounter,
	typeAccel:       KindAccel,
	typeRotation:    KindRotation,
}

// sensorSentence is the parsed form of one board sentence.
type sensorSentence struct {
	nmea.BaseSentence
	Sample Sample
}

// SentenceDecoder turns sensor board lines into samples.
type SentenceDecoder struct {
	parser nmea.SentenceParser
}

// NewSentenceDecoder returns a decoder that understands the board sentences.
func NewSentenceDecoder() *SentenceDecoder {
	parsers := make(map[string]nmea.ParserFunc, len(sentenceKinds))
	for typ, kind := range sentenceKinds {
		parsers[typ] = sentenceParser(kind)
	}
	return &SentenceDecoder{parser: nmea.SentenceParser{CustomParsers: parsers}}
}

func sentenceParser(kind Kind) nmea.ParserFunc {
	return func(s nmea.BaseSentence) (nmea.Sentence, error) {
		if len(s.Fields) < 1 {
			return nil, fmt.Errorf("%s: missing timestamp", s.Type)
		}
		p := nmea.NewParser(s)
		ms := p.Int64(0, "timestamp")
		values := make([]float64, 0, len(s.Fields)-1)
		for i := 1; i < len(s.Fields); i++ {
			values = append(values, p.Float64(i, "value"))
		}
		if err := p.Err(); err != nil {
			return nil, err
		}
		smp := Sample{Kind: kind, Time: time.UnixMilli(ms).UTC()}
		if len(values) > 0 {
			smp.Values = values
		}
		return sensorSentence{BaseSentence: s, Sample: smp}, nil
	}
}

// Decode parses and validates one line. Sentences from other talkers, such
// as a GPS sharing the port, are rejected with an error.
func (d *SentenceDecoder) Decode(line string) (Sample, error) {
	sentence, err := d.parser.Parse(strings.TrimSpace(line))
	if err != nil {
		return Sample{}, err
	}
	ss, ok := sentence.(sensorSentence)
	if !ok || ss.Talker != talkerSensor {
		return Sample{}, fmt.Errorf("not a sensor sentence: %s", sentence.Prefix())
	}
	if err := ss.Sample.Validate(); err != nil {
		return Sample{}, err
	}
	return ss.Sample, nil
}

// FormatSentence renders a sample as a board sentence. Boards and
// simulators use it to produce lines that Decode accepts.
func FormatSentence(s Sample) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	var typ string
	for t, k := range sentenceKinds {
		if k == s.Kind {
			typ = t
		}
	}

	fields := []string{talkerSensor + typ, strconv.FormatInt(s.Time.UnixMilli(), 10)}
	for _, v := range s.Values {
		fields = append(fields, strconv.FormatFloat(v, 'f', -1, 64))
	}
	body := strings.Join(fields, ",")
	return "$" + body + "*" + nmea.Checksum(body), nil
}
