package logger

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsIngest   int64
	errorsStorage  int64
	warnsIngest    int64
	warnsStorage   int64
	framesApplied  int64
	entriesSkipped int64
	framesDropped  int64
	reconnects     int64
	s3Writes       int64
	kafkaMessages  int64
	channels       sync.Map // name -> *channelStat
	books          sync.Map // market -> func() Fields
)

func recordWarn(component string) {
	switch componentGroup(component) {
	case "ingest":
		atomic.AddInt64(&warnsIngest, 1)
	case "storage":
		atomic.AddInt64(&warnsStorage, 1)
	}
}

func recordError(component string) {
	switch componentGroup(component) {
	case "ingest":
		atomic.AddInt64(&errorsIngest, 1)
	case "storage":
		atomic.AddInt64(&errorsStorage, 1)
	}
}

func componentGroup(component string) string {
	switch {
	case strings.Contains(component, "ingest"), strings.Contains(component, "reader"):
		return "ingest"
	case strings.Contains(component, "writer"), strings.Contains(component, "s3"), strings.Contains(component, "kafka"):
		return "storage"
	}
	return ""
}

// IncrementFrameApplied counts one frame applied to a book.
func IncrementFrameApplied(size int) {
	atomic.AddInt64(&framesApplied, 1)
	recordChannel("frames_applied", size)
}

// AddEntriesSkipped counts malformed entries dropped by the applier.
func AddEntriesSkipped(n int) {
	atomic.AddInt64(&entriesSkipped, int64(n))
}

// IncrementFrameDropped counts a frame evicted from a full queue.
func IncrementFrameDropped() {
	atomic.AddInt64(&framesDropped, 1)
}

// IncrementReconnect counts a feed resubscription.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

func IncrementS3Write(size int64) {
	atomic.AddInt64(&s3Writes, 1)
	recordChannel("s3_snapshot_write", int(size))
}

func IncrementKafkaMessage(size int) {
	atomic.AddInt64(&kafkaMessages, 1)
	recordChannel("kafka_top_of_book", size)
}

// RecordChannelMessage counts a message of size bytes on a named channel.
func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// RegisterBook adds a market's counters to the runtime report.
func RegisterBook(market string, stats func() Fields) {
	books.Store(market, stats)
}

// UnregisterBook removes a market from the runtime report.
func UnregisterBook(market string) {
	books.Delete(market)
}

// StartReport logs a runtime report every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func bookReports() map[string]Fields {
	out := map[string]Fields{}
	books.Range(func(k, v any) bool {
		out[k.(string)] = v.(func() Fields)()
		return true
	})
	return out
}

func channelReports() map[string]map[string]int64 {
	out := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		out[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})
	return out
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memUsed := uint64(0)
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsed = vm.Used
	}
	var bytesSent, bytesRecv uint64
	if netStats, err := gnet.IOCounters(false); err == nil && len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	counters := map[string]int64{
		"FramesApplied":  atomic.LoadInt64(&framesApplied),
		"EntriesSkipped": atomic.LoadInt64(&entriesSkipped),
		"FramesDropped":  atomic.LoadInt64(&framesDropped),
		"Reconnects":     atomic.LoadInt64(&reconnects),
		"S3Writes":       atomic.LoadInt64(&s3Writes),
		"KafkaMessages":  atomic.LoadInt64(&kafkaMessages),
		"ErrorsIngest":   atomic.LoadInt64(&errorsIngest),
		"ErrorsStorage":  atomic.LoadInt64(&errorsStorage),
		"WarnsIngest":    atomic.LoadInt64(&warnsIngest),
		"WarnsStorage":   atomic.LoadInt64(&warnsStorage),
	}
	bookData := bookReports()
	channelData := channelReports()

	fields := Fields{
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed) / 1024 / 1024,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
		"books":          bookData,
		"channels":       channelData,
	}
	for name, v := range counters {
		fields[snakeCase(name)] = v
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memUsed) / 1024 / 1024)},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	}
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(counters[name])),
		})
	}
	for market, f := range bookData {
		orders, ok := toFloat(f["orders"])
		if !ok {
			continue
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("RestingOrders"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Market"), Value: aws.String(market)}},
			Value:      aws.Float64(orders),
		})
	}

	publishMetrics(ctx, data)
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
