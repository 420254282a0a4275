package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gsym/internal/exprtree"
	"gsym/internal/semantics"
	"gsym/internal/x86"
)

var traceOutFile string

var traceCommand = &cobra.Command{
	Use:   "trace",
	Short: "run the built-in demo block and print the state diff",
	Long: `trace drives a hand-scripted instruction sequence through the
semantics engine, standing in for a disassembler front end, then
prints the resulting state, the diff against the original state and
its SHA1 fingerprint.`,
	Run: func(*cobra.Command, []string) {
		if err := traceExec(); err != nil {
			fmt.Printf("service err: %v", err)
		}
	},
}

func init() {
	traceCommand.Flags().StringVar(&traceOutFile, "out", "", "write the report to a file instead of stdout")
}

func traceExec() error {
	out := io.Writer(os.Stdout)
	if traceOutFile != "" {
		f, err := os.Create(traceOutFile)
		if err != nil {
			return errors.Wrap(err, "create report file")
		}
		defer f.Close()
		out = f
	}

	p := semantics.NewPolicy()
	runDemoBlock(p)

	rmap := exprtree.RenameMap{}
	var b strings.Builder
	p.Render(&b, rmap)
	b.WriteString("diff from original state:\n")
	p.RenderDiffFromOrig(&b, rmap)
	fmt.Fprint(out, b.String())
	fmt.Fprintf(out, "sha1: %s\n", p.SHA1())
	return nil
}

// runDemoBlock feeds the policy the effects of a small basic block:
//
//	mov eax, 0x1234
//	add eax, ebx
//	mov [esp-4], eax
//	mov ecx, [esp-4]
//	mov edx, [esi]
func runDemoBlock(p *semantics.Policy) {
	step := func(addr uint64, mnemonic string, body func()) {
		insn := &x86.Instruction{Address: addr, Mnemonic: mnemonic}
		p.StartInstruction(insn)
		body()
		p.FinishInstruction(insn)
	}

	step(0x401000, "mov eax, 0x1234", func() {
		p.WriteGPR(x86.GPRAX, p.Number(32, 0x1234))
	})
	step(0x401005, "add eax, ebx", func() {
		sum, carries := p.AddWithCarries(p.ReadGPR(x86.GPRAX), p.ReadGPR(x86.GPRBX), p.False_())
		p.WriteGPR(x86.GPRAX, sum)
		p.WriteFlag(x86.FlagCF, p.Extract(carries, 31, 32))
		p.WriteFlag(x86.FlagZF, p.EqualToZero(sum))
	})
	step(0x401007, "mov [esp-4], eax", func() {
		addr := p.Add(p.ReadGPR(x86.GPRSP), p.Number(32, 0xfffffffc))
		p.WriteMemory(x86.SegSS, addr, p.ReadGPR(x86.GPRAX), p.True_(), 32)
	})
	step(0x40100b, "mov ecx, [esp-4]", func() {
		addr := p.Add(p.ReadGPR(x86.GPRSP), p.Number(32, 0xfffffffc))
		p.WriteGPR(x86.GPRCX, p.ReadMemory(x86.SegSS, addr, p.True_(), 32))
	})
	step(0x40100f, "mov edx, [esi]", func() {
		p.WriteGPR(x86.GPRDX, p.ReadMemory(x86.SegDS, p.ReadGPR(x86.GPRSI), p.True_(), 32))
	})

	log.Infof("processed %d instructions", p.InsnCount())
}
