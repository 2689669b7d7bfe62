// Package netlog is the logging facade used across prenet. It forwards to
// onet's leveled logger so every component logs the way cothority services
// do, without each package importing the rest of onet's tree/roster RPC
// machinery. It forwards Lvl1..Lvl4, Lvlf1..Lvlf3 and Info/Warn/Error with
// their f-variants; Lvl5 and Fatal are not exposed.
package netlog

import "github.com/dedis/onet/log"

func Lvl1(args ...interface{}) { log.Lvl1(args...) }
func Lvl2(args ...interface{}) { log.Lvl2(args...) }
func Lvl3(args ...interface{}) { log.Lvl3(args...) }
func Lvl4(args ...interface{}) { log.Lvl4(args...) }

func Lvlf1(f string, args ...interface{}) { log.Lvlf1(f, args...) }
func Lvlf2(f string, args ...interface{}) { log.Lvlf2(f, args...) }
func Lvlf3(f string, args ...interface{}) { log.Lvlf3(f, args...) }

func Info(args ...interface{})  { log.Info(args...) }
func Warn(args ...interface{})  { log.Warn(args...) }
func Error(args ...interface{}) { log.Error(args...) }

func Infof(f string, args ...interface{})  { log.Infof(f, args...) }
func Warnf(f string, args ...interface{})  { log.Warnf(f, args...) }
func Errorf(f string, args ...interface{}) { log.Errorf(f, args...) }
