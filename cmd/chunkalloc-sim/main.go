// Simulates a swarm of requesters downloading random content through a chunkalloc Engine.
package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/anacrolix/chunkalloc"
	"github.com/anacrolix/chunkalloc/files"
	"github.com/anacrolix/chunkalloc/policy"
	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

type args struct {
	Store        string  `default:"memory" arg:"env:CHUNKALLOC_STORE" help:"memory, bolt, leveldb or sqlite"`
	Dir          string  `arg:"env:CHUNKALLOC_DIR" help:"where persistent stores and the downloaded file go, default a temporary directory"`
	Pieces       int     `default:"64"`
	PieceLength  int64   `default:"262144"`
	ChunkSize    int64   `default:"16384"`
	Peers        int     `default:"4"`
	Batch        int     `default:"8" help:"chunks requested at a time"`
	Availability float64 `default:"0.5" help:"fraction of pieces each peer besides the first has"`
	CorruptRate  float64 `help:"fraction of chunk deliveries that are corrupted"`
	Rate         float64 `help:"chunk deliveries per second per peer, 0 is unlimited"`
	MaxRounds    int     `default:"100"`
	Debug        bool
}

func main() {
	defer envpprof.Stop()
	err := mainErr()
	if err != nil {
		log.Printf("error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	var flags args
	arg.MustParse(&flags)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	logger := log.Default.WithNames("sim")
	if !flags.Debug {
		logger = logger.FilterLevel(log.Info)
	}
	if flags.Dir == "" {
		dir, err := os.MkdirTemp("", "chunkalloc-sim")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		flags.Dir = dir
	}
	s, err := openStore(flags.Store, flags.Dir)
	if err != nil {
		return errors.Wrapf(err, "opening %v store", flags.Store)
	}
	defer s.Close()
	sim, err := newSim(flags, s, logger)
	if err != nil {
		return err
	}
	defer sim.files.Close()
	return sim.run(ctx)
}

type sim struct {
	args
	logger   log.Logger
	store    store.Store
	engine   *chunkalloc.Engine
	oracle   *policy.Ordered
	files    *files.File
	verifier *files.Verifier
	owner    types.Owner
	data     []byte
	stats    simStats
}

func newSim(flags args, s store.Store, logger log.Logger) (*sim, error) {
	// The last piece is short.
	data := make([]byte, int64(flags.Pieces)*flags.PieceLength-flags.PieceLength/3)
	for i := range data {
		data[i] = byte(rand.Uint32())
	}
	info := files.NewInfo("sim", data, flags.PieceLength)
	v, err := files.NewVerifier(info)
	if err != nil {
		return nil, err
	}
	me := &sim{
		args:     flags,
		logger:   logger,
		store:    s,
		oracle:   policy.NewOrdered(),
		files:    files.NewFile(flags.Dir),
		verifier: v,
		owner:    metainfo.HashBytes(bencode.MustMarshal(info)),
		data:     data,
	}
	me.oracle.Logger = logger
	err = me.files.AddTorrent(me.owner, info)
	if err != nil {
		return nil, err
	}
	cfg := chunkalloc.NewDefaultConfig()
	cfg.ChunkSize = flags.ChunkSize
	cfg.Logger = logger
	me.engine = chunkalloc.New(s, me.oracle, me.files, cfg)
	me.oracle.AddTorrent(me.owner, v.NumPieces(), v.PieceLength)
	return me, nil
}

func (me *sim) run(ctx context.Context) error {
	err := me.engine.AddOwner(ctx, me.owner, me.verifier.NumPieces())
	if err != nil {
		return err
	}
	endgame, err := me.oracle.Endgame(me.owner)
	if err != nil {
		return err
	}
	started := time.Now()
	go func() {
		select {
		case <-endgame:
			me.logger.Levelf(log.Info, "endgame after %v", time.Since(started))
		case <-ctx.Done():
		}
	}()
	rounds := 0
	for {
		done, err := me.complete(ctx)
		if err != nil {
			return err
		}
		if done {
			break
		}
		if rounds >= me.MaxRounds {
			return errors.Errorf("incomplete after %v rounds", rounds)
		}
		rounds++
		err = me.round(ctx)
		if err != nil {
			return err
		}
	}
	elapsed := time.Since(started)
	got, err := os.ReadFile(me.files.Path(me.owner))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, me.data) {
		return errors.New("downloaded data doesn't match")
	}
	fmt.Printf("downloaded %v in %v (%v/s) over %v rounds using %v store\n",
		humanize.Bytes(uint64(len(me.data))),
		elapsed.Round(time.Millisecond),
		humanize.Bytes(uint64(float64(len(me.data))/elapsed.Seconds())),
		rounds,
		me.Store,
	)
	fmt.Printf("%v deliveries, %v duplicates, %v corrupted, %v wrong hashes, %v put back\n",
		humanize.Comma(me.stats.deliveries.Load()),
		humanize.Comma(me.stats.duplicates.Load()),
		humanize.Comma(me.stats.corrupted.Load()),
		humanize.Comma(me.stats.wrongHashes.Load()),
		humanize.Comma(me.stats.putBack.Load()),
	)
	return nil
}

func (me *sim) complete(ctx context.Context) (bool, error) {
	stats, err := me.engine.Stats(ctx, me.owner)
	if err != nil {
		return false, err
	}
	return stats.Pieces[types.PieceFetched] == me.verifier.NumPieces(), nil
}

// Runs every peer until none of them has anything left to do.
func (me *sim) round(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := range me.Peers {
		p := &peer{
			sim:       me,
			requester: types.Requester(fmt.Sprintf("peer%d", i)),
			have:      me.availability(i == 0),
			limiter:   rate.NewLimiter(rate.Inf, 1),
		}
		if me.Rate > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(me.Rate), 1)
		}
		eg.Go(func() error {
			return p.run(ctx)
		})
	}
	return eg.Wait()
}

func (me *sim) availability(seed bool) *roaring.Bitmap {
	bm := roaring.New()
	for i := range me.verifier.NumPieces() {
		if seed || rand.Float64() < me.Availability {
			bm.Add(uint32(i))
		}
	}
	return bm
}
