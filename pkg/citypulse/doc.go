// Package citypulse fetches Zurich open-data feeds and turns them into
// bucketed time series.
//
// Quick start:
//
//	c := citypulse.New(citypulse.WithInterval("W"))
//	cases, err := c.Cases(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	counter, _ := c.Counter(ctx)
//	both, _ := citypulse.Compare(cases, counter)
//	fmt.Println(both.Name, len(both.Points)) // cases_vs_counter 12
//
// Missing cells are reported as NaN. A Client is safe for concurrent use.
package citypulse
