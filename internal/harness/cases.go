package harness

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/tinyrange/qspicheck/internal/netboot"
	"github.com/tinyrange/qspicheck/internal/qspi"
)

type testCase struct {
	name     string
	requires []string
	fn       func(ctx context.Context, r *Runner, rng *rand.Rand) error
}

// cases run in this order. Writes rely on the preceding block erase since
// NOR programming only clears bits.
var cases = []testCase{
	{name: "read_twice", requires: []string{"cmd_sf", "cmd_memory"}, fn: readTwice},
	{name: "erase_block", requires: []string{"cmd_sf"}, fn: eraseBlock},
	{name: "write_twice", requires: []string{"cmd_sf", "cmd_memory"}, fn: writeTwice},
	{name: "erase_all", requires: []string{"cmd_sf"}, fn: eraseAll},
	{name: "boot_images", requires: []string{"cmd_sf"}, fn: bootImages},
}

func (r *Runner) prepare(ctx context.Context, f *qspi.Flash) (qspi.Geometry, qspi.Pair, error) {
	g, err := f.Probe(ctx)
	if err != nil {
		return g, qspi.Pair{}, err
	}
	base, err := r.ramBase(ctx, f)
	if err != nil {
		return g, qspi.Pair{}, err
	}
	return g, qspi.NewPair(base, g), nil
}

func readTwice(ctx context.Context, r *Runner, rng *rand.Rand) error {
	f := r.flash("")
	g, pair, err := r.prepare(ctx, f)
	if err != nil {
		return err
	}
	plan, err := qspi.NewPlan(g, qspi.ReadPlan, rng)
	if err != nil {
		return err
	}
	r.log.Info("harness: read plan", "sizes", plan.Sizes)
	return f.VerifyReads(ctx, pair, plan)
}

func eraseBlock(ctx context.Context, r *Runner, _ *rand.Rand) error {
	f := r.flash("erase blocks")
	g, err := f.Probe(ctx)
	if err != nil {
		return err
	}
	return f.EraseBlocks(ctx, g)
}

func writeTwice(ctx context.Context, r *Runner, rng *rand.Rand) error {
	f := r.flash("")
	g, pair, err := r.prepare(ctx, f)
	if err != nil {
		return err
	}
	plan, err := qspi.NewPlan(g, qspi.WritePlan, rng)
	if err != nil {
		return err
	}
	r.log.Info("harness: write plan", "sizes", plan.Sizes)
	return f.VerifyWrites(ctx, pair, plan)
}

func eraseAll(ctx context.Context, r *Runner, _ *rand.Rand) error {
	f := r.flash("erase all")
	g, err := f.Probe(ctx)
	if err != nil {
		return err
	}
	return f.EraseAll(ctx, g)
}

func bootImages(ctx context.Context, r *Runner, _ *rand.Rand) error {
	f := r.flash("")
	if _, err := f.Probe(ctx); err != nil {
		return err
	}

	env := r.board.Env
	netCfg := netboot.Config{
		DHCP:       env.NetDHCPServer && r.board.Enabled("cmd_dhcp"),
		ServerHost: env.NetServerHost,
		Resolver:   env.NetDNSResolver,
	}
	for _, v := range env.NetStaticEnvVars {
		netCfg.StaticEnv = append(netCfg.StaticEnv, netboot.EnvVar{Name: v.Name, Value: v.Value})
	}
	if !r.board.Enabled("cmd_net") {
		return qspi.Skipf("CONFIG_CMD_NET not enabled")
	}

	nb := netboot.New(r.ch, netCfg, r.log)
	if err := nb.Up(ctx); err != nil {
		return err
	}

	if env.NetTFTPReadableFile == nil {
		return qspi.Skipf("no TFTP readable file to read")
	}
	file := netboot.File{
		Name:  env.NetTFTPReadableFile.Fn,
		Addr:  uint64(env.NetTFTPReadableFile.Addr),
		Size:  env.NetTFTPReadableFile.Size,
		CRC32: env.NetTFTPReadableFile.CRC32,
	}
	if file.Addr == 0 {
		base, err := r.ramBase(ctx, f)
		if err != nil {
			return err
		}
		file.Addr = base
	}
	if err := nb.Fetch(ctx, file); err != nil {
		return err
	}

	second, err := qspi.ParseOffset(r.board.Value("sys_spi_u_boot_offs", ""))
	if err != nil {
		return fmt.Errorf("CONFIG_SYS_SPI_U_BOOT_OFFS: %w", err)
	}
	return f.ProvisionBoot(ctx, file.Addr, qspi.StagingAddr, qspi.BootImages(second))
}
