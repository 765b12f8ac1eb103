package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aluiziolira/bookwise/coordinator"
	"github.com/aluiziolira/bookwise/filter"
	"github.com/aluiziolira/bookwise/models"
	"github.com/aluiziolira/bookwise/session"
)

const interactiveHelp = `Type to search. Commands:
  /platform NAME     toggle a platform filter (Amazon, Flipkart, Bookswagon)
  /rating N          minimum rating; repeat the same value to clear
  /prime             toggle the prime-only filter
  /free              toggle the free-shipping filter
  /price MIN MAX     narrow the price range
  /category NAME     browse a category while the query is empty
  /reset             clear every filter
  /open N            show result N in detail
  /days N            change the price history window of the open book
  /retry             retry whatever failed
  /theme             switch to the next theme
  /quit              leave`

var errQuit = errors.New("quit")

// InteractiveCmd reads queries and commands line by line.
type InteractiveCmd struct {
	Category string `help:"Category to browse until a query is typed."`
}

func (c *InteractiveCmd) Run(a *app) error {
	out := &syncWriter{w: a.out}
	r := &repl{
		app:    a,
		out:    out,
		search: session.NewSearchSession(a.ctx, a.backend, c.Category, a.sessionOptions()...),
		detail: session.NewDetailSession(a.ctx, a.backend, a.sessionOptions()...),
	}
	defer r.search.Close()
	defer r.detail.Close()

	r.unsubscribe = r.search.Subscribe(func(v session.SearchView) {
		if v.Status == coordinator.StatusIdle {
			return
		}
		renderSearch(out, v)
	})
	defer r.unsubscribe()

	fmt.Fprintln(out, interactiveHelp)
	return r.loop(a.in)
}

type repl struct {
	app    *app
	out    io.Writer
	search *session.SearchSession
	detail *session.DetailSession
	opened *models.Book

	unsubscribe func()
}

func (r *repl) loop(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		select {
		case <-r.app.ctx.Done():
			return nil
		default:
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			r.search.Input(line)
			continue
		}
		if err := r.command(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(r.out, "error: %s\n", describeError(err))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	// Input ended: settle what was typed last and print it here, since
	// nothing is subscribed any more.
	r.unsubscribe()
	v := r.search.View()
	typed := strings.TrimSpace(v.Text) != v.Query
	if typed {
		r.search.Submit()
	}
	if !typed && v.Status != coordinator.StatusPending {
		return nil
	}
	v, err := r.search.Await(r.app.ctx)
	if err != nil {
		return err
	}
	renderSearch(r.out, v)
	return nil
}

func (r *repl) command(line string) error {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(r.out, interactiveHelp)
		return nil
	case "/platform":
		if len(args) == 0 {
			return errors.New("usage: /platform NAME")
		}
		r.search.TogglePlatform(strings.Join(args, " "))
	case "/rating":
		if len(args) != 1 {
			return errors.New("usage: /rating N")
		}
		rating, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("rating %q: %w", args[0], err)
		}
		if err := r.search.SetRating(rating); err != nil {
			return err
		}
	case "/prime":
		if err := r.search.ToggleAvailability(filter.AvailabilityPrime); err != nil {
			return err
		}
	case "/free":
		if err := r.search.ToggleAvailability(filter.AvailabilityFreeShipping); err != nil {
			return err
		}
	case "/price":
		if len(args) != 2 {
			return errors.New("usage: /price MIN MAX")
		}
		if err := r.setPrice(args[0], args[1]); err != nil {
			return err
		}
	case "/category":
		r.search.SetCategory(strings.Join(args, " "))
		return nil
	case "/reset":
		r.search.ResetFilters()
	case "/open":
		if len(args) != 1 {
			return errors.New("usage: /open N")
		}
		return r.open(args[0])
	case "/days":
		if len(args) != 1 {
			return errors.New("usage: /days N")
		}
		days, err := strconv.Atoi(args[0])
		if err != nil || days <= 0 {
			return fmt.Errorf("days must be a positive number, got %q", args[0])
		}
		if r.opened == nil {
			return errors.New("open a book first")
		}
		r.detail.SetHistoryDays(days)
		return r.showDetail()
	case "/retry":
		r.search.Retry()
		if r.opened != nil {
			r.detail.Retry()
			return r.showDetail()
		}
		return nil
	case "/theme":
		next, err := openTheme(r.app).Cycle()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "theme: %s\n", next)
		return nil
	default:
		return fmt.Errorf("unknown command %s, try /help", name)
	}

	// Filter changes re-derive the list from the results already fetched.
	renderSearch(r.out, r.search.View())
	return nil
}

func (r *repl) setPrice(minArg, maxArg string) error {
	lo, err := strconv.ParseFloat(minArg, 64)
	if err != nil {
		return fmt.Errorf("min price %q: %w", minArg, err)
	}
	hi, err := strconv.ParseFloat(maxArg, 64)
	if err != nil {
		return fmt.Errorf("max price %q: %w", maxArg, err)
	}
	if err := r.search.SetPriceBound(1, hi); err != nil {
		return err
	}
	return r.search.SetPriceBound(0, lo)
}

func (r *repl) open(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("result number %q: %w", arg, err)
	}
	results := r.search.View().Results
	if n < 1 || n > len(results) {
		return fmt.Errorf("no result %d, %d shown", n, len(results))
	}
	summary := results[n-1]
	r.opened = &summary
	return r.showDetail()
}

// showDetail waits for the open book's fetches and prints the page. Loading
// an already open book joins its pending or cached fetches.
func (r *repl) showDetail() error {
	v, err := r.detail.Load(r.app.ctx, *r.opened)
	if err != nil {
		return err
	}
	renderDetail(r.out, v)
	return nil
}
