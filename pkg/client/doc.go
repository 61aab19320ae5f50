/*
Package client provides a Go client for the controller's JSON API.

The client wraps the HTTP API exposed by a running controller with
typed methods, so CLI subcommands and external tooling never build
requests by hand. All calls share one http.Client with a bounded
timeout; responses decode straight into pkg/types values.

# Usage

	c := client.New("127.0.0.1:8080")

	stock, err := c.Stock()
	if err != nil {
		log.Fatal(err)
	}
	for item, count := range stock {
		fmt.Printf("%-40s %d\n", item, count)
	}

Creating and watching a request:

	req, err := c.CreateRequest("minecraft:piston", 16, "drop_chest")
	if err != nil {
		log.Fatal(err)
	}
	for {
		cur, err := c.GetRequest(req.ID)
		if err != nil {
			log.Fatal(err)
		}
		if cur.Status == types.RequestStatusDelivered {
			break
		}
		time.Sleep(time.Second)
	}

# Error Handling

Non-2xx responses become errors carrying the server's own error
message when the body includes one, so "404 Not Found: not found" and
"400 Bad Request: invalid request" surface directly to the operator.

The client keeps no mutable state and is safe for concurrent use.
*/
package client
