package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var walker = false
var lfh = false
var valloc = false
var segment = false
var umdh = false
var ust = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Walker returns true if the heap orchestrator should log.
func Walker() bool {
	return walker
}

// WalkerLogger returns a logger for the heap orchestrator (C7).
func WalkerLogger() *logrus.Entry {
	return makeLogger(walker, logrus.Fields{"layer": "walker"})
}

// LFH returns true if the LFH walker should log.
func LFH() bool {
	return lfh
}

// LFHLogger returns a logger for the LFH walker (C4).
func LFHLogger() *logrus.Entry {
	return makeLogger(lfh, logrus.Fields{"layer": "lfh"})
}

// Valloc returns true if the VirtualAlloc walker should log.
func Valloc() bool {
	return valloc
}

// VallocLogger returns a logger for the VirtualAlloc walker (C5).
func VallocLogger() *logrus.Entry {
	return makeLogger(valloc, logrus.Fields{"layer": "valloc"})
}

// Segment returns true if the segment walker should log.
func Segment() bool {
	return segment
}

// SegmentLogger returns a logger for the backend segment walker (C6).
func SegmentLogger() *logrus.Entry {
	return makeLogger(segment, logrus.Fields{"layer": "segment"})
}

// Umdh returns true if the umdh log sink should log its own progress.
func Umdh() bool {
	return umdh
}

// UmdhLogger returns a logger for the umdh-compatible sink.
func UmdhLogger() *logrus.Entry {
	return makeLogger(umdh, logrus.Fields{"layer": "umdh"})
}

// Ust returns true if the stack-trace database reader should log.
func Ust() bool {
	return ust
}

// UstLogger returns a logger for the stack-trace database reader.
func UstLogger() *logrus.Entry {
	return makeLogger(ust, logrus.Fields{"layer": "ust"})
}

var errLogstrWithoutVerbose = errors.New("-log-output specified without -v")

// Setup sets the per-layer debug flags based on the contents of logstr.
// It mirrors the "-v[=layer,layer,...]" convention: an empty logstr with
// verbose set enables only the walker layer, matching heapstat.cpp's single
// DPRINTF gate.
func Setup(verbose bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !verbose {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutVerbose
		}
		return nil
	}
	if logstr == "" {
		logstr = "walker"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "walker":
			walker = true
		case "lfh":
			lfh = true
		case "valloc":
			valloc = true
		case "segment":
			segment = true
		case "umdh":
			umdh = true
		case "ust":
			ust = true
		}
	}
	return nil
}
