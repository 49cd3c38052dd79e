package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/spf13/viper"

	"github.com/x-xyz/bidding/base/log"
)

const (
	ddClientsSize    = 16 // needs to be 2^n
	ddClientsIdxMask = ddClientsSize - 1
	ddPort           = 8125
	// buffer 10 counters before sending to statsd
	bufferMetrics = 10
)

var (
	initOnce     = sync.Once{}
	ddClientsIdx = int32(0)
	ddClients    []statsCli
)

type statsCli interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
	Histogram(name string, value float64, tags []string, rate float64) error
	TimeInMilliseconds(name string, value float64, tags []string, rate float64) error
}

func initDDClient() {
	addr := fmt.Sprintf("%s:%d", viper.GetString("datadog_host"), ddPort)
	ddClients = make([]statsCli, ddClientsSize)
	for i := 0; i < ddClientsSize; i++ {
		cli, err := statsd.NewBuffered(addr, bufferMetrics)
		if err != nil {
			log.Log().WithFields(log.Fields{"addr": addr, "err": err}).Error("can't talk to datadog agent, fallback to log")
			ddClients[i] = &LogClient{}
			continue
		}
		ddClients[i] = cli
	}
	log.Log().WithField("addr", addr).Info("datadog clients ready")
}

// ddClient picks one of the shared clients round robin
func ddClient() statsCli {
	initOnce.Do(initDDClient)
	i := atomic.AddInt32(&ddClientsIdx, 1) & ddClientsIdxMask
	return ddClients[i]
}

func report(fn, key string, val float64, err error) {
	if err != nil {
		log.Log().WithFields(log.Fields{"err": err, "key": key, "val": val, "func": fn}).Error("bump failed")
	}
}

func parseTag(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	if len(tags)%2 != 0 {
		log.Log().WithField("tags", tags).Panic("tag length needs to be multiple of 2")
	}
	arr := make([]string, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		arr[i/2] = tags[i] + ":" + tags[i+1]
	}
	return arr
}
