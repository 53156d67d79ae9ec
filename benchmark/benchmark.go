package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pb "github.com/anchel/voucher-seckill/proto"
	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	addr      = flag.String("addr", "localhost:50051", "the address to connect to")
	voucherID = flag.Int64("voucher", 1, "voucher to buy")
	requests  = flag.Int("n", 20000, "number of purchase requests")
	users     = flag.Int64("users", 1000000, "user ids are drawn from [1, users]")
	checkWait = flag.Duration("check-wait", 2*time.Second, "wait before checking admitted orders")
)

func withUser(userID int64) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), pb.UserIDMetadataKey, strconv.FormatInt(userID, 10))
}

func main() {
	flag.Parse()

	var countAdmitted int64
	var countNoStock int64
	var countDuplicate int64
	var countClosed int64
	var countUnavailable int64
	var countError int64

	var countOrderFound int64
	var countOrderMissing int64
	var countOrderError int64

	delayArr := make([]int, 20)
	delayLen := len(delayArr)
	delayMutex := sync.Mutex{}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal("did not connect", "err", err)
	}
	defer conn.Close()
	c := pb.NewSeckillServiceClient(conn)

	now := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []int64
	)
	for range *requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := rand.Int63n(*users) + 1

			start := time.Now()
			_, err := c.SeckillVoucher(withUser(userID), wrapperspb.Int64(*voucherID))

			// latency buckets of 100ms
			delay := int(math.Round(float64(time.Since(start).Milliseconds()) / 100))
			if delay >= delayLen {
				delay = delayLen - 1
			}
			delayMutex.Lock()
			delayArr[delay]++
			delayMutex.Unlock()

			switch status.Code(err) {
			case codes.OK:
				atomic.AddInt64(&countAdmitted, 1)
				mu.Lock()
				admitted = append(admitted, userID)
				mu.Unlock()
			case codes.ResourceExhausted:
				atomic.AddInt64(&countNoStock, 1)
			case codes.AlreadyExists:
				atomic.AddInt64(&countDuplicate, 1)
			case codes.FailedPrecondition:
				atomic.AddInt64(&countClosed, 1)
			case codes.Unavailable:
				atomic.AddInt64(&countUnavailable, 1)
			default:
				atomic.AddInt64(&countError, 1)
			}
		}()
	}
	wg.Wait()

	fmt.Println("voucherID", *voucherID)
	fmt.Println("--------------------------------------")
	fmt.Println("time used:", time.Since(now).Seconds())
	fmt.Printf("countAdmitted: %d\n", countAdmitted)
	fmt.Printf("countNoStock: %d\n", countNoStock)
	fmt.Printf("countDuplicate: %d\n", countDuplicate)
	fmt.Printf("countClosed: %d\n", countClosed)
	fmt.Printf("countUnavailable: %d\n", countUnavailable)
	fmt.Printf("countError: %d\n", countError)
	fmt.Println("delayArr (100ms):", delayArr)
	fmt.Println("--------------------------------------")

	time.Sleep(*checkWait)

	var wgCheck sync.WaitGroup
	for _, userID := range admitted {
		wgCheck.Add(1)
		go func() {
			defer wgCheck.Done()
			_, err := c.CheckOrder(withUser(userID), wrapperspb.Int64(*voucherID))
			switch status.Code(err) {
			case codes.OK:
				atomic.AddInt64(&countOrderFound, 1)
			case codes.NotFound:
				atomic.AddInt64(&countOrderMissing, 1)
			default:
				atomic.AddInt64(&countOrderError, 1)
			}
		}()
	}
	wgCheck.Wait()

	fmt.Println("time used:", time.Since(now).Seconds())
	fmt.Printf("countOrderFound: %d\n", countOrderFound)
	fmt.Printf("countOrderMissing: %d\n", countOrderMissing)
	fmt.Printf("countOrderError: %d\n", countOrderError)
}
